package model

// GPUDeviceInfo holds per-device GPU metrics scraped from dcgm-exporter.
// Samples carrying a partition profile label are attributed to the matching
// partition instance rather than the whole device.
type GPUDeviceInfo struct {
	UUID               string   `json:"uuid"`
	DeviceIndex        string   `json:"device_index"`
	ModelName          string   `json:"model_name,omitempty"`
	UtilizationPercent *float64 `json:"utilization_percent,omitempty"`
	MemoryUtilPercent  *float64 `json:"memory_util_percent,omitempty"`
	MemoryUsedBytes    *int64   `json:"memory_used_bytes,omitempty"`
	MemoryTotalBytes   *int64   `json:"memory_total_bytes,omitempty"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`
	PowerWatts         *float64 `json:"power_watts,omitempty"`
	PartitionProfile   string   `json:"partition_profile,omitempty"`
	PartitionUUID      string   `json:"partition_uuid,omitempty"`
}
