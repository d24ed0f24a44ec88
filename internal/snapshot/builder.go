package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/collector/gpu"
	"github.com/duck3244/k8s-gpu-management/internal/config"
	"github.com/duck3244/k8s-gpu-management/internal/observability"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// GPUMetricsProvider abstracts GPU metrics retrieval for testability.
type GPUMetricsProvider interface {
	GetGPUMetrics() []gpu.GPUDeviceMetrics
}

// CostAnalyzer produces the cost analysis attached to snapshots.
type CostAnalyzer interface {
	Analyze(periodDays int) model.CostAnalysis
}

// SnapshotBuilder reads the fleet stores, merges live metrics, runs the cost
// analysis, computes the summary, and returns a complete FleetSnapshot.
type SnapshotBuilder struct {
	store        *store.Store
	metricsStore *store.MetricsStore
	usage        *store.UsageStore
	catalog      *catalog.Catalog
	registry     *registry.Registry
	estimator    CostAnalyzer
	config       *config.Config
	metrics      *observability.Metrics
	gpuCollector GPUMetricsProvider

	// includeCost is toggled by backend directives between cycles.
	includeCost atomic.Bool

	// provider and region are detected once at startup from the cloud
	// instance metadata service.
	provider string
	region   string
}

// NewSnapshotBuilder creates a SnapshotBuilder with all required dependencies.
// estimator and gpuCollector may be nil; the corresponding snapshot sections
// are then omitted.
func NewSnapshotBuilder(
	st *store.Store,
	metricsStore *store.MetricsStore,
	usage *store.UsageStore,
	cat *catalog.Catalog,
	reg *registry.Registry,
	estimator CostAnalyzer,
	cfg *config.Config,
	metrics *observability.Metrics,
	gpuCollector GPUMetricsProvider,
) *SnapshotBuilder {
	b := &SnapshotBuilder{
		store:        st,
		metricsStore: metricsStore,
		usage:        usage,
		catalog:      cat,
		registry:     reg,
		estimator:    estimator,
		config:       cfg,
		metrics:      metrics,
		gpuCollector: gpuCollector,
	}
	b.includeCost.Store(true)
	return b
}

// SetIncludeCostAnalysis controls whether Build attaches a cost analysis.
// Driven by the backend's snapshot directives.
func (b *SnapshotBuilder) SetIncludeCostAnalysis(include bool) {
	b.includeCost.Store(include)
}

// SetCloudMetadata records the detected cloud provider and region, stamped
// onto every snapshot. Called once before the build loop starts.
func (b *SnapshotBuilder) SetCloudMetadata(provider, region string) {
	b.provider = provider
	b.region = region
}

// Build reads all stores concurrently, merges metrics, runs the cost
// analysis, computes the summary, and returns the complete snapshot.
func (b *SnapshotBuilder) Build(ctx context.Context) *model.FleetSnapshot {
	start := time.Now()

	snap := &model.FleetSnapshot{}

	// Step 1: Read all TypedStores concurrently. Allocations come back in
	// full; the snapshot carries only the active ones, the summary counts
	// every status.
	allAllocations := b.readStores(snap)
	snap.Allocations = activeOnly(allAllocations)

	// Step 2: Merge metrics-server data into pod containers.
	mergePodMetrics(snap.Pods, b.metricsStore.PodMetrics.Values())

	// Step 3: Merge per-container GPU metrics (from dcgm-exporter).
	if b.gpuCollector != nil {
		mergeGPUContainerMetrics(snap.Pods, b.gpuCollector.GetGPUMetrics())
	}

	// Step 4: Overheating devices against the configured threshold.
	if b.registry != nil {
		snap.Overheating = b.registry.FindOverheating(b.config.OverheatThresholdC)
	}

	// Step 5: Cost analysis, unless the backend asked us to skip it.
	if b.estimator != nil && b.includeCost.Load() {
		analysis := b.estimator.Analyze(b.config.CostAnalysisDays)
		snap.CostAnalysis = &analysis
	}

	// Step 6: Compute summary.
	snap.Summary = ComputeSummary(snap, allAllocations, b.catalog, b.usage)

	// Step 7: Set identity fields.
	snap.SnapshotID = uuid.New().String()
	snap.ClusterID = b.config.ClusterID
	snap.ClusterName = b.config.ClusterName
	snap.Timestamp = time.Now().UnixMilli()
	snap.AgentVersion = b.config.AgentVersion
	snap.Provider = b.provider
	snap.Region = b.region

	if len(snap.Nodes) > 0 {
		snap.KubernetesVersion = snap.Nodes[0].KubernetesVersion
	}

	// Step 8: Health counts and data source status. The agent loop fills
	// in state, send timings, and sweep results before upload.
	snap.Health.NodeCount = len(snap.Nodes)
	snap.Health.DeviceCount = len(snap.Devices)
	snap.Health.PartitionCount = len(snap.Partitions)
	snap.Health.AllocationCount = len(snap.Allocations)
	snap.Health.PodCount = len(snap.Pods)
	snap.Health.MetricsServerAvailable = b.metricsStore.NodeMetrics.Len() > 0
	snap.Health.GPUMetricsAvailable = snap.Summary.GPUMetricsAvailable
	snap.Health.CollectedAt = time.Now().UnixMilli()

	// Step 9: Check for stale resources (no update in >3x snapshot interval).
	stalenessThreshold := 3 * b.config.SnapshotInterval
	now := time.Now().UnixMilli()
	for resource, lastUpdated := range b.store.LastUpdatedTimes() {
		age := time.Duration(now-lastUpdated) * time.Millisecond
		if age > stalenessThreshold {
			snap.Health.StaleResources = append(snap.Health.StaleResources, resource)
		}
	}

	// Step 10: Track build duration.
	if b.metrics != nil {
		b.metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
	}

	return snap
}

// readStores reads all TypedStores concurrently via a WaitGroup.
// Returns the full allocation list (all statuses) for summary counting.
func (b *SnapshotBuilder) readStores(snap *model.FleetSnapshot) []model.Allocation {
	var wg sync.WaitGroup
	wg.Add(5)
	var allocations []model.Allocation

	go func() { defer wg.Done(); snap.Nodes = b.store.Nodes.Values() }()
	go func() { defer wg.Done(); snap.Devices = b.store.Devices.Values() }()
	go func() { defer wg.Done(); snap.Partitions = b.store.Instances.Values() }()
	go func() { defer wg.Done(); snap.Pods = b.store.Pods.Values() }()
	go func() { defer wg.Done(); allocations = b.store.Allocations.Values() }()

	wg.Wait()
	return allocations
}

func activeOnly(allocations []model.Allocation) []model.Allocation {
	active := make([]model.Allocation, 0, len(allocations))
	for _, a := range allocations {
		if a.Status == model.AllocationAllocated {
			active = append(active, a)
		}
	}
	return active
}

// mergePodMetrics sets CPU and memory usage on pod containers from metrics-server data.
func mergePodMetrics(pods []model.PodInfo, metrics []model.PodMetrics) {
	if len(metrics) == 0 {
		return
	}
	lookup := make(map[string]model.PodMetrics, len(metrics))
	for _, m := range metrics {
		key := fmt.Sprintf("%s/%s", m.Namespace, m.Name)
		lookup[key] = m
	}
	for i := range pods {
		key := fmt.Sprintf("%s/%s", pods[i].Namespace, pods[i].Name)
		pm, ok := lookup[key]
		if !ok {
			continue
		}
		// Build container metrics lookup.
		cmLookup := make(map[string]model.ContainerMetrics, len(pm.Containers))
		for _, cm := range pm.Containers {
			cmLookup[cm.Name] = cm
		}
		for j := range pods[i].Containers {
			if cm, found := cmLookup[pods[i].Containers[j].Name]; found {
				cpu := cm.CPUUsageCores
				mem := cm.MemoryUsageBytes
				pods[i].Containers[j].CPUUsageCores = &cpu
				pods[i].Containers[j].MemoryUsageBytes = &mem
			}
		}
	}
}

// mergeGPUContainerMetrics attributes dcgm-exporter samples to the pod
// containers they were scraped for, averaging utilization across devices and
// summing memory when a container holds more than one GPU.
func mergeGPUContainerMetrics(pods []model.PodInfo, metrics []gpu.GPUDeviceMetrics) {
	if len(metrics) == 0 {
		return
	}

	type containerKey struct {
		namespace string
		pod       string
		container string
	}
	type containerGPU struct {
		utilSum   float64
		utilCount int
		memUsed   int64
		hasUtil   bool
		hasMem    bool
	}

	lookup := make(map[containerKey]*containerGPU)
	for _, m := range metrics {
		if m.PodName == "" || m.Namespace == "" || m.ContainerName == "" {
			continue
		}
		key := containerKey{namespace: m.Namespace, pod: m.PodName, container: m.ContainerName}
		cg, ok := lookup[key]
		if !ok {
			cg = &containerGPU{}
			lookup[key] = cg
		}
		if m.GPUUtilization != nil {
			cg.utilSum += *m.GPUUtilization
			cg.utilCount++
			cg.hasUtil = true
		}
		if m.MemoryUsedBytes != nil {
			cg.memUsed += *m.MemoryUsedBytes
			cg.hasMem = true
		}
	}

	for i := range pods {
		for j := range pods[i].Containers {
			key := containerKey{
				namespace: pods[i].Namespace,
				pod:       pods[i].Name,
				container: pods[i].Containers[j].Name,
			}
			cg, ok := lookup[key]
			if !ok {
				continue
			}
			if cg.hasUtil && cg.utilCount > 0 {
				avg := cg.utilSum / float64(cg.utilCount)
				pods[i].Containers[j].GPUUtilizationPercent = &avg
			}
			if cg.hasMem {
				pods[i].Containers[j].GPUMemoryUsedBytes = &cg.memUsed
			}
		}
	}
}
