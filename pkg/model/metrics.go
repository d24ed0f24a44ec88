package model

// GPUUsageSample is one point-in-time utilization reading for a device or
// partition instance, appended by the telemetry collector and retained by
// the usage-metrics store for range queries.
type GPUUsageSample struct {
	DeviceID           string   `json:"device_id"`
	InstanceID         string   `json:"instance_id,omitempty"` // set for partition samples
	UtilizationPercent *float64 `json:"utilization_percent,omitempty"`
	MemoryUtilPercent  *float64 `json:"memory_util_percent,omitempty"`
	MemoryUsedBytes    *int64   `json:"memory_used_bytes,omitempty"`
	TemperatureC       *float64 `json:"temperature_c,omitempty"`
	PowerW             *float64 `json:"power_w,omitempty"`
	Timestamp          int64    `json:"timestamp"` // UnixMilli
}

// GPUUsageAverages is the aggregate answer for a device over a time range.
type GPUUsageAverages struct {
	DeviceID          string  `json:"device_id"`
	Samples           int     `json:"samples"`
	AvgUtilizationPct float64 `json:"avg_utilization_pct"`
	AvgMemoryUtilPct  float64 `json:"avg_memory_util_pct"`
	AvgTemperatureC   float64 `json:"avg_temperature_c"`
	MaxTemperatureC   float64 `json:"max_temperature_c"`
	AvgPowerW         float64 `json:"avg_power_w"`
}

// NodeMetrics represents metrics-server data for a node.
type NodeMetrics struct {
	Name             string  `json:"name"`
	CPUUsageCores    float64 `json:"cpu_usage_cores"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	Timestamp        int64   `json:"timestamp"`
}

// PodMetrics represents metrics-server data for a pod.
type PodMetrics struct {
	Name       string             `json:"name"`
	Namespace  string             `json:"namespace"`
	Containers []ContainerMetrics `json:"containers"`
	Timestamp  int64              `json:"timestamp"`
}

// ContainerMetrics represents metrics-server data for a single container.
type ContainerMetrics struct {
	Name             string  `json:"name"`
	CPUUsageCores    float64 `json:"cpu_usage_cores"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
}
