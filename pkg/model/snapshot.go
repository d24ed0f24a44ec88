package model

// FleetSnapshot is the complete payload sent to the backend on every reporting cycle.
type FleetSnapshot struct {
	// Identity
	SnapshotID   string `json:"snapshot_id"`
	ClusterID    string `json:"cluster_id"`
	ClusterName  string `json:"cluster_name"`
	Timestamp    int64  `json:"timestamp"`
	AgentVersion string `json:"agent_version"`

	// Provider
	Provider          string `json:"provider"`
	Region            string `json:"region"`
	KubernetesVersion string `json:"kubernetes_version"`

	// Fleet state
	Nodes       []GPUNode           `json:"nodes"`
	Devices     []GPUDevice         `json:"devices"`
	Partitions  []PartitionInstance `json:"partitions"`
	Allocations []Allocation        `json:"allocations"`

	// GPU-consuming workloads
	Pods []PodInfo `json:"pods"`

	// Computed
	Overheating  []GPUDevice   `json:"overheating,omitempty"`
	CostAnalysis *CostAnalysis `json:"cost_analysis,omitempty"`
	Summary      FleetSummary  `json:"summary"`

	// Agent health
	Health AgentHealth `json:"health"`
}

// FleetSummary holds computed counts and utilization totals across the fleet.
type FleetSummary struct {
	NodeCount      int `json:"node_count"`
	DeviceCount    int `json:"device_count"`
	PartitionCount int `json:"partition_count"`
	PodCount       int `json:"pod_count"`
	GPUPodCount    int `json:"gpu_pod_count"`

	ActiveDevices      int `json:"active_devices"`
	PartitionedDevices int `json:"partitioned_devices"`
	FailedDevices      int `json:"failed_devices"`
	MaintenanceDevices int `json:"maintenance_devices"`

	ActiveAllocations   int `json:"active_allocations"`
	ReleasedAllocations int `json:"released_allocations"`
	ExpiredAllocations  int `json:"expired_allocations"`

	AllocatedPartitions int `json:"allocated_partitions"`
	FreePartitions      int `json:"free_partitions"`

	TotalMemoryGB     int `json:"total_memory_gb"`
	AllocatedMemoryGB int `json:"allocated_memory_gb"`

	TotalGPUCapacity  int `json:"total_gpu_capacity"`
	TotalGPURequested int `json:"total_gpu_requested"`

	AvgUtilizationPct   *float64 `json:"avg_utilization_pct,omitempty"`
	AvgTemperatureC     *float64 `json:"avg_temperature_c,omitempty"`
	GPUMetricsAvailable bool     `json:"gpu_metrics_available"`
}

// AgentHealth is sent with every snapshot for backend-side storage.
type AgentHealth struct {
	// Cumulative counters
	SnapshotsSentTotal   uint64 `json:"snapshots_sent_total"`
	SnapshotsFailedTotal uint64 `json:"snapshots_failed_total"`
	SnapshotsTotalCount  uint64 `json:"snapshots_total"`

	// Agent state
	State       string `json:"state"`
	StateReason string `json:"state_reason,omitempty"`

	// Snapshot build performance
	LastBuildDurationMs          int64 `json:"last_build_duration_ms"`
	LastMetricsCollectDurationMs int64 `json:"last_metrics_collect_duration_ms"`
	LastSendDurationMs           int64 `json:"last_send_duration_ms"`

	// Payload size
	OriginalSizeBytes   int64   `json:"original_size_bytes"`
	CompressedSizeBytes int64   `json:"compressed_size_bytes"`
	CompressionRatio    float64 `json:"compression_ratio"`

	// Entity counts
	NodeCount       int `json:"node_count"`
	DeviceCount     int `json:"device_count"`
	PartitionCount  int `json:"partition_count"`
	AllocationCount int `json:"allocation_count"`
	PodCount        int `json:"pod_count"`

	// Data source status
	MetricsServerAvailable bool `json:"metrics_server_available"`
	GPUMetricsAvailable    bool `json:"gpu_metrics_available"`
	DCGMExporterTargets    int  `json:"dcgm_exporter_targets"`
	DCGMExporterUpTargets  int  `json:"dcgm_exporter_up_targets"`

	// Informer health
	InformersSynced  bool     `json:"informers_synced"`
	InformersHealthy int      `json:"informers_healthy"`
	InformersTotal   int      `json:"informers_total"`
	StaleResources   []string `json:"stale_resources,omitempty"`

	// Sweep health
	LastExpirySweepAt  int64 `json:"last_expiry_sweep_at"`
	ExpiredLastSweep   int   `json:"expired_last_sweep"`
	ReclaimedLastSweep int   `json:"reclaimed_last_sweep"`

	// Errors
	ActiveErrorsCount   int      `json:"active_errors_count"`
	ActiveWarningsCount int      `json:"active_warnings_count"`
	ErrorCodes          []string `json:"error_codes,omitempty"`

	// Uptime
	UptimeSeconds int64 `json:"uptime_seconds"`
	StartedAt     int64 `json:"started_at"`

	CollectedAt int64 `json:"collected_at"`
}
