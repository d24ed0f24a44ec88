package model

// DeviceStatus is the operating status of a physical GPU device.
type DeviceStatus string

// Device operating statuses. A device is Partitioned exactly while it owns
// partition instances; only the partition manager sets or clears that status.
const (
	DeviceActive      DeviceStatus = "ACTIVE"
	DeviceInactive    DeviceStatus = "INACTIVE"
	DeviceMaintenance DeviceStatus = "MAINTENANCE"
	DeviceFailed      DeviceStatus = "FAILED"
	DevicePartitioned DeviceStatus = "PARTITIONED"
)

// Valid reports whether s is one of the defined device statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceActive, DeviceInactive, DeviceMaintenance, DeviceFailed, DevicePartitioned:
		return true
	}
	return false
}

// GPUDevice is one physical GPU installed in one node.
type GPUDevice struct {
	ID         string       `json:"id"` // <node>-GPU-<slot>, derived at registration
	NodeName   string       `json:"node_name"`
	ModelID    string       `json:"model_id"`
	SlotIndex  int          `json:"slot_index"`
	HardwareID string       `json:"hardware_id"` // GPU UUID, unique across the fleet
	Status     DeviceStatus `json:"status"`

	// Live telemetry, upserted by RecordTelemetry. No history is kept here;
	// history lives in the usage-metrics store.
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	PowerW       *float64 `json:"power_w,omitempty"`

	RegisteredAt int64 `json:"registered_at"` // UnixMilli
}

// DeviceRegistration is the request to register a physical GPU with the fleet.
type DeviceRegistration struct {
	NodeName   string `json:"node_name"`
	ModelID    string `json:"model_id"`
	SlotIndex  int    `json:"slot_index"`
	HardwareID string `json:"hardware_id"`
}

// GPUNode is the registry's record of a worker node hosting GPU devices.
// Upserted by the node collector; GPU counts are recomputed by the registry
// on every device registration, status change, and deletion.
type GPUNode struct {
	Name              string `json:"name"`
	ClusterName       string `json:"cluster_name,omitempty"`
	IP                string `json:"ip,omitempty"`
	KubernetesVersion string `json:"kubernetes_version,omitempty"`
	DriverVersion     string `json:"driver_version,omitempty"`

	Ready               bool    `json:"ready"`
	CPUCapacityCores    float64 `json:"cpu_capacity_cores"`
	MemoryCapacityBytes int64   `json:"memory_capacity_bytes"`
	GPUCapacity         int     `json:"gpu_capacity"` // nvidia.com/gpu allocatable

	TotalGPUs     int   `json:"total_gpus"`
	AvailableGPUs int   `json:"available_gpus"` // devices currently ACTIVE
	UpdatedAt     int64 `json:"updated_at"`

	Labels map[string]string `json:"labels,omitempty"`
}

// DeviceStatistics summarizes the device inventory for snapshots.
type DeviceStatistics struct {
	TotalDevices       int            `json:"total_devices"`
	ActiveDevices      int            `json:"active_devices"`
	PartitionedDevices int            `json:"partitioned_devices"`
	DevicesByNode      map[string]int `json:"devices_by_node"`
	DevicesByModel     map[string]int `json:"devices_by_model"`
	Timestamp          int64          `json:"timestamp"`
}
