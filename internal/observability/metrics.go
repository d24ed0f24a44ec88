package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for agent self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Snapshot metrics
	SnapshotBuildDuration prometheus.Histogram
	SnapshotSendDuration  prometheus.Histogram
	SnapshotSizeBytes     *prometheus.HistogramVec
	SnapshotSendTotal     *prometheus.CounterVec

	// Informer metrics
	InformerEventsTotal *prometheus.CounterVec

	// Store metrics
	StoreItems *prometheus.GaugeVec

	// Allocation metrics
	AllocationsTotal  *prometheus.CounterVec
	ActiveAllocations prometheus.Gauge
	SweepDuration     *prometheus.HistogramVec
	ExpiredTotal      prometheus.Counter
	ReclaimedTotal    prometheus.Counter

	// Fleet metrics
	Devices            *prometheus.GaugeVec
	PartitionInstances *prometheus.GaugeVec
	OverheatingDevices prometheus.Gauge

	// Transport metrics
	TransportRetries prometheus.Counter

	// State metrics
	AgentState *prometheus.GaugeVec

	// Metrics API metrics
	MetricsAPIDuration prometheus.Histogram

	// DCGM scrape metrics
	GPUScrapeDuration prometheus.Histogram
	GPUScrapeTotal    *prometheus.CounterVec

	// Compression metrics
	CompressionRatio    prometheus.Gauge
	CompressionDuration prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sizeBuckets := prometheus.ExponentialBuckets(1024, 4, 10)

	m := &Metrics{
		Registry: reg,

		SnapshotBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_snapshot_build_duration_seconds",
			Help:    "Duration of snapshot build operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_snapshot_send_duration_seconds",
			Help:    "Duration of snapshot send operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_snapshot_size_bytes",
			Help:    "Size of snapshots in bytes.",
			Buckets: sizeBuckets,
		}, []string{"type"}),
		SnapshotSendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumgmt_agent_snapshot_send_total",
			Help: "Total number of snapshot send attempts.",
		}, []string{"status"}),

		InformerEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumgmt_agent_informer_events_total",
			Help: "Total number of informer events received.",
		}, []string{"resource", "event"}),

		StoreItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_store_items",
			Help: "Current number of items in the store.",
		}, []string{"resource"}),

		AllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumgmt_agent_allocations_total",
			Help: "Total number of allocation lifecycle events.",
		}, []string{"event"}),
		ActiveAllocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_active_allocations",
			Help: "Current number of live allocations.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_sweep_duration_seconds",
			Help:    "Duration of background sweep passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpumgmt_agent_allocations_expired_total",
			Help: "Total number of allocations expired by the sweep.",
		}),
		ReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpumgmt_agent_partitions_reclaimed_total",
			Help: "Total number of unused partition instances reclaimed.",
		}),

		Devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_devices",
			Help: "Current number of registered GPU devices by status.",
		}, []string{"status"}),
		PartitionInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_partition_instances",
			Help: "Current number of partition instances by status.",
		}, []string{"status"}),
		OverheatingDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_overheating_devices",
			Help: "Current number of devices at or above the overheat threshold.",
		}),

		TransportRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpumgmt_agent_transport_retries_total",
			Help: "Total number of transport retry attempts.",
		}),

		AgentState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_state",
			Help: "Current agent state (1 = active, 0 = inactive).",
		}, []string{"state"}),

		MetricsAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_metrics_api_duration_seconds",
			Help:    "Duration of metrics API calls in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		GPUScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_gpu_scrape_duration_seconds",
			Help:    "Duration of DCGM exporter scrapes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		GPUScrapeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpumgmt_agent_gpu_scrape_total",
			Help: "Total number of DCGM exporter scrape attempts.",
		}, []string{"status"}),

		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpumgmt_agent_compression_ratio",
			Help: "Current compression ratio (compressed/original).",
		}),
		CompressionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpumgmt_agent_compression_duration_seconds",
			Help:    "Duration of compression operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.SnapshotBuildDuration,
		m.SnapshotSendDuration,
		m.SnapshotSizeBytes,
		m.SnapshotSendTotal,
		m.InformerEventsTotal,
		m.StoreItems,
		m.AllocationsTotal,
		m.ActiveAllocations,
		m.SweepDuration,
		m.ExpiredTotal,
		m.ReclaimedTotal,
		m.Devices,
		m.PartitionInstances,
		m.OverheatingDevices,
		m.TransportRetries,
		m.AgentState,
		m.MetricsAPIDuration,
		m.GPUScrapeDuration,
		m.GPUScrapeTotal,
		m.CompressionRatio,
		m.CompressionDuration,
	)

	return m
}
