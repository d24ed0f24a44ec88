package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	// Creating metrics should not panic.
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	// Gather from our custom registry — should have metrics.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	// Gather from the default registry — our metrics should NOT be there.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "gpumgmt_agent_") {
			t.Errorf("metric %q does not start with gpumgmt_agent_ prefix", f.GetName())
		}
	}
}

func TestNewMetrics_CounterIncrement(t *testing.T) {
	m := NewMetrics()

	// Increment a plain counter.
	m.TransportRetries.Inc()

	pb := &dto.Metric{}
	if err := m.TransportRetries.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("TransportRetries = %v, want 1", got)
	}

	// Increment a counter vec.
	m.SnapshotSendTotal.WithLabelValues("success").Inc()
	m.SnapshotSendTotal.WithLabelValues("success").Inc()
	m.SnapshotSendTotal.WithLabelValues("error").Inc()

	pb = &dto.Metric{}
	if err := m.SnapshotSendTotal.WithLabelValues("success").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("SnapshotSendTotal(success) = %v, want 2", got)
	}
}

func TestNewMetrics_HistogramObserve(t *testing.T) {
	m := NewMetrics()

	m.SnapshotBuildDuration.Observe(0.5)
	m.SnapshotBuildDuration.Observe(1.5)

	pb := &dto.Metric{}
	if err := m.SnapshotBuildDuration.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("SnapshotBuildDuration sample count = %v, want 2", got)
	}

	// HistogramVec
	m.SnapshotSizeBytes.WithLabelValues("original").Observe(2048)
	pb = &dto.Metric{}
	if err := m.SnapshotSizeBytes.WithLabelValues("original").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("SnapshotSizeBytes(original) sample count = %v, want 1", got)
	}
}

func TestNewMetrics_GaugeSet(t *testing.T) {
	m := NewMetrics()

	m.ActiveAllocations.Set(7)

	pb := &dto.Metric{}
	if err := m.ActiveAllocations.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 7 {
		t.Errorf("ActiveAllocations = %v, want 7", got)
	}

	m.CompressionRatio.Set(0.75)
	pb = &dto.Metric{}
	if err := m.CompressionRatio.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 0.75 {
		t.Errorf("CompressionRatio = %v, want 0.75", got)
	}

	m.OverheatingDevices.Set(2)
	pb = &dto.Metric{}
	if err := m.OverheatingDevices.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 2 {
		t.Errorf("OverheatingDevices = %v, want 2", got)
	}
}

func TestNewMetrics_VecLabels(t *testing.T) {
	m := NewMetrics()

	// InformerEventsTotal has labels: resource, event
	m.InformerEventsTotal.WithLabelValues("pods", "add").Inc()
	m.InformerEventsTotal.WithLabelValues("pods", "update").Inc()
	m.InformerEventsTotal.WithLabelValues("nodes", "delete").Inc()

	pb := &dto.Metric{}
	if err := m.InformerEventsTotal.WithLabelValues("pods", "add").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("InformerEventsTotal(pods,add) = %v, want 1", got)
	}

	// StoreItems has label: resource
	m.StoreItems.WithLabelValues("devices").Set(42)
	pb = &dto.Metric{}
	if err := m.StoreItems.WithLabelValues("devices").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 42 {
		t.Errorf("StoreItems(devices) = %v, want 42", got)
	}

	// SweepDuration has label: sweep
	m.SweepDuration.WithLabelValues("expiry").Observe(0.1)
	pb = &dto.Metric{}
	if err := m.SweepDuration.WithLabelValues("expiry").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("SweepDuration(expiry) sample count = %v, want 1", got)
	}

	// Devices has label: status
	m.Devices.WithLabelValues("ACTIVE").Set(4)
	m.Devices.WithLabelValues("PARTITIONED").Set(1)
	pb = &dto.Metric{}
	if err := m.Devices.WithLabelValues("ACTIVE").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 4 {
		t.Errorf("Devices(ACTIVE) = %v, want 4", got)
	}

	// AgentState has label: state
	m.AgentState.WithLabelValues("running").Set(1)
	m.AgentState.WithLabelValues("starting").Set(0)
	pb = &dto.Metric{}
	if err := m.AgentState.WithLabelValues("running").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 1 {
		t.Errorf("AgentState(running) = %v, want 1", got)
	}
}

func TestNewMetrics_AllocationCounters(t *testing.T) {
	m := NewMetrics()

	m.AllocationsTotal.WithLabelValues("allocated").Inc()
	m.AllocationsTotal.WithLabelValues("allocated").Inc()
	m.AllocationsTotal.WithLabelValues("released").Inc()
	m.ExpiredTotal.Inc()
	m.ReclaimedTotal.Inc()
	m.ReclaimedTotal.Inc()

	pb := &dto.Metric{}
	if err := m.AllocationsTotal.WithLabelValues("allocated").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("AllocationsTotal(allocated) = %v, want 2", got)
	}

	pb = &dto.Metric{}
	if err := m.ExpiredTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("ExpiredTotal = %v, want 1", got)
	}

	pb = &dto.Metric{}
	if err := m.ReclaimedTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("ReclaimedTotal = %v, want 2", got)
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	// Creating two separate Metrics instances should not panic
	// because each uses its own registry.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}

func TestNewMetrics_AllFieldsNonNil(t *testing.T) {
	m := NewMetrics()

	if m.SnapshotBuildDuration == nil {
		t.Error("SnapshotBuildDuration is nil")
	}
	if m.SnapshotSendDuration == nil {
		t.Error("SnapshotSendDuration is nil")
	}
	if m.SnapshotSizeBytes == nil {
		t.Error("SnapshotSizeBytes is nil")
	}
	if m.SnapshotSendTotal == nil {
		t.Error("SnapshotSendTotal is nil")
	}
	if m.InformerEventsTotal == nil {
		t.Error("InformerEventsTotal is nil")
	}
	if m.StoreItems == nil {
		t.Error("StoreItems is nil")
	}
	if m.AllocationsTotal == nil {
		t.Error("AllocationsTotal is nil")
	}
	if m.ActiveAllocations == nil {
		t.Error("ActiveAllocations is nil")
	}
	if m.SweepDuration == nil {
		t.Error("SweepDuration is nil")
	}
	if m.ExpiredTotal == nil {
		t.Error("ExpiredTotal is nil")
	}
	if m.ReclaimedTotal == nil {
		t.Error("ReclaimedTotal is nil")
	}
	if m.Devices == nil {
		t.Error("Devices is nil")
	}
	if m.PartitionInstances == nil {
		t.Error("PartitionInstances is nil")
	}
	if m.OverheatingDevices == nil {
		t.Error("OverheatingDevices is nil")
	}
	if m.TransportRetries == nil {
		t.Error("TransportRetries is nil")
	}
	if m.AgentState == nil {
		t.Error("AgentState is nil")
	}
	if m.MetricsAPIDuration == nil {
		t.Error("MetricsAPIDuration is nil")
	}
	if m.GPUScrapeDuration == nil {
		t.Error("GPUScrapeDuration is nil")
	}
	if m.GPUScrapeTotal == nil {
		t.Error("GPUScrapeTotal is nil")
	}
	if m.CompressionRatio == nil {
		t.Error("CompressionRatio is nil")
	}
	if m.CompressionDuration == nil {
		t.Error("CompressionDuration is nil")
	}
}
