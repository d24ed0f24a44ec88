package gpu

// GPUDeviceMetrics is one scrape cycle's view of a single physical GPU (or
// MIG instance) as reported by dcgm-exporter. Pointer fields distinguish
// "metric absent from the scrape" from a genuine zero.
type GPUDeviceMetrics struct {
	// Identity labels.
	GPU           string `json:"gpu"`
	UUID          string `json:"uuid"`
	Device        string `json:"device,omitempty"`
	ModelName     string `json:"model_name,omitempty"`
	DriverVersion string `json:"driver_version,omitempty"`
	Hostname      string `json:"hostname,omitempty"`

	// Workload attribution; empty when no pod is bound to the device.
	PodName       string `json:"pod_name"`
	Namespace     string `json:"namespace"`
	ContainerName string `json:"container_name"`

	// MIG topology labels, present only on partitioned devices.
	MIGEnabled    *bool  `json:"mig_enabled,omitempty"`
	GPUInstanceID string `json:"gpu_instance_id,omitempty"`
	GPUProfile    string `json:"gpu_profile,omitempty"`

	// Utilization gauges, percent.
	GPUUtilization      *float64 `json:"gpu_utilization,omitempty"`
	TensorActivePercent *float64 `json:"tensor_active_percent,omitempty"`
	MemCopyUtilPercent  *float64 `json:"mem_copy_util_percent,omitempty"`

	// Framebuffer memory.
	MemoryUsedBytes  *int64 `json:"memory_used_bytes,omitempty"`
	MemoryFreeBytes  *int64 `json:"memory_free_bytes,omitempty"`
	MemoryTotalBytes *int64 `json:"memory_total_bytes,omitempty"`

	// Thermals and power draw, feeding the device registry's telemetry
	// fields and the overheating report.
	Temperature *float64 `json:"temperature,omitempty"`
	PowerUsage  *float64 `json:"power_usage,omitempty"`

	Timestamp int64 `json:"timestamp"`
}
