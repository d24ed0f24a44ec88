package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclientset "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/duck3244/k8s-gpu-management/internal/agent"
	"github.com/duck3244/k8s-gpu-management/internal/allocation"
	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/cloud"
	"github.com/duck3244/k8s-gpu-management/internal/collector"
	"github.com/duck3244/k8s-gpu-management/internal/collector/gpu"
	collectormetrics "github.com/duck3244/k8s-gpu-management/internal/collector/metrics"
	"github.com/duck3244/k8s-gpu-management/internal/collector/resource"
	"github.com/duck3244/k8s-gpu-management/internal/config"
	"github.com/duck3244/k8s-gpu-management/internal/cost"
	"github.com/duck3244/k8s-gpu-management/internal/discovery"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/health"
	"github.com/duck3244/k8s-gpu-management/internal/observability"
	"github.com/duck3244/k8s-gpu-management/internal/partition"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/snapshot"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/internal/transport"
)

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("gpu-management agent starting",
		"version", cfg.AgentVersion,
		"cluster_id", cfg.ClusterID,
		"backend_url", cfg.BackendURL,
		"snapshot_interval", cfg.SnapshotInterval,
	)

	// 3. Create shared infrastructure.
	clock := errors.RealClock{}
	logger := slog.Default()
	metrics := observability.NewMetrics()
	errCollector := errors.NewErrorCollector(clock)
	st := store.NewStore()
	ms := store.NewMetricsStore()
	usage := store.NewUsageStore()
	sm := agent.NewStateMachine(clock)
	sm.SetCancelFunc(cancel)

	// 4. Seed the GPU catalog and build the fleet subsystems.
	cat := catalog.New(st.Models, st.Profiles)
	if err := cat.Seed(catalog.DefaultModels(), catalog.DefaultProfiles()); err != nil {
		slog.Error("failed to seed GPU catalog", "error", err)
		os.Exit(1)
	}
	deviceReg := registry.New(st, cat, clock, logger)
	estimator := cost.New(st, cat, clock, cost.Config{
		Rates:               cfg.CostRates,
		FallbackRate:        cfg.FallbackHourlyRate,
		Currency:            cfg.Currency,
		PartitionDiscount:   cfg.PartitionDiscount,
		RightsizingMemoryGB: cfg.RightsizingMemoryGB,
		StaleAfterDays:      cfg.StaleAfterDays,
		IdleDeviceSurplus:   cfg.IdleDeviceSurplus,
	}, logger)
	partitionMgr := partition.New(st, cat, deviceReg, clock, logger)
	engine := allocation.New(st, cat, estimator, clock, logger)
	partitionMgr.SetFinalizer(engine)

	// 5. Build Kubernetes clients.
	restCfg := buildKubeConfig()
	kubeClient := kubernetes.NewForConfigOrDie(restCfg)
	metricsClient := metricsclientset.NewForConfigOrDie(restCfg)

	// 6. Detect cluster capabilities.
	caps, err := discovery.Detect(ctx, kubeClient, kubeClient.Discovery())
	if err != nil {
		slog.Error("failed to detect cluster capabilities", "error", err)
		os.Exit(1)
	}
	slog.Info("cluster capabilities detected",
		"metrics_server", caps.MetricsServer,
		"gpu_nodes", caps.GPUNodes,
		"dcgm_exporter", caps.DCGMExporter,
		"dcgm_endpoints", len(caps.DCGMExporterEndpoints),
	)

	// 7. Register collectors.
	collectorReg := collector.NewRegistry()
	resync := cfg.InformerResyncPeriod

	collectorReg.Register(resource.NewNodeCollector(kubeClient, st, deviceReg, metrics, resync))
	collectorReg.Register(resource.NewPodCollector(kubeClient, st, metrics, resync))

	if caps.MetricsServer {
		collectorReg.Register(collectormetrics.NewMetricsCollectorFromClient(
			metricsClient.MetricsV1beta1(), st, ms, metrics, cfg.MetricsInterval,
		))
	}

	// 7b. Conditional GPU telemetry collector. Scraped readings feed the
	// device registry and the usage store through the recorder.
	var gpuProvider snapshot.GPUMetricsProvider
	if (caps.DCGMExporter || len(cfg.DCGMExporterEndpoints) > 0) && cfg.GPUMetricsEnabled {
		gpuClient := gpu.NewDCGMExporterClient(&http.Client{Timeout: 10 * time.Second})

		var endpointsFn func() []string
		if len(cfg.DCGMExporterEndpoints) > 0 {
			// Static endpoints from env override, no refresh needed.
			staticEndpoints := cfg.DCGMExporterEndpoints
			endpointsFn = func() []string {
				urls := make([]string, 0, len(staticEndpoints))
				for _, ip := range staticEndpoints {
					urls = append(urls, fmt.Sprintf("http://%s:%d", ip, cfg.DCGMExporterPort))
				}
				return urls
			}
		} else {
			// Dynamic discovery, re-detect dcgm-exporter pods on each poll.
			endpointsFn = func() []string {
				_, ips := discovery.DetectDCGMEndpoints(ctx, kubeClient)
				urls := make([]string, 0, len(ips))
				for _, ip := range ips {
					urls = append(urls, fmt.Sprintf("http://%s:%d", ip, cfg.DCGMExporterPort))
				}
				return urls
			}
		}

		recorder := gpu.NewRecorder(deviceReg, usage, logger)
		gpuCollector := gpu.NewGPUMetricsCollector(gpuClient, endpointsFn, cfg.GPUMetricsInterval, recorder.Record)
		collectorReg.Register(gpuCollector)
		gpuProvider = gpuCollector
	}

	// 8. Build the snapshot builder; stamp cloud identity if detectable.
	builder := snapshot.NewSnapshotBuilder(st, ms, usage, cat, deviceReg, estimator, &cfg, metrics, gpuProvider)

	mdCtx, mdCancel := context.WithTimeout(ctx, 5*time.Second)
	md := cloud.DetectCloudMetadata(mdCtx, 2*time.Second)
	mdCancel()
	if md.Provider != "" {
		slog.Info("cloud metadata detected", "provider", md.Provider, "region", md.Region)
		builder.SetCloudMetadata(md.Provider, md.Region)
	}

	// 9. Create transport and agent.
	transportClient := transport.NewClient(&cfg, metrics, errCollector)
	ag := agent.NewAgent(agent.Deps{
		Config:         &cfg,
		Collectors:     collectorReg,
		Builder:        builder,
		Transport:      transportClient,
		StateMachine:   sm,
		ErrorCollector: errCollector,
		Metrics:        metrics,
		Engine:         engine,
		Partitions:     partitionMgr,
		Store:          st,
		Usage:          usage,
	})

	// 10. Start health server.
	healthSrv := health.NewServer(cfg.HealthPort, metrics, ag, ag, st, deviceReg, cfg.DebugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}

	// 11. Start memory pressure monitor.
	memMon := agent.NewMemoryPressureMonitor(0.8, func() { runtime.GC() }, 30*time.Second, nil)
	memMon.Start()

	// 12. Run agent (blocks until context is canceled).
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "error", err)
	}

	// 13. Graceful shutdown.
	memMon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("gpu-management agent stopped")
}

// buildKubeConfig creates a Kubernetes REST config.
// It tries in-cluster config first, then falls back to kubeconfig file
// (from $KUBECONFIG or the default ~/.kube/config).
func buildKubeConfig() *rest.Config {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		slog.Info("using in-cluster kubernetes config")
		return cfg
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = clientcmd.RecommendedHomeFile
	}

	cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		slog.Error("failed to build kubernetes config", "error", err)
		os.Exit(1)
	}
	slog.Info("using kubeconfig file", "path", kubeconfig)
	return cfg
}
