package model

// InstanceStatus is the operating status of a partition instance.
type InstanceStatus string

// Partition instance statuses.
const (
	InstanceActive   InstanceStatus = "ACTIVE"
	InstanceInactive InstanceStatus = "INACTIVE"
	InstanceFailed   InstanceStatus = "FAILED"
)

// Valid reports whether s is one of the defined instance statuses.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceActive, InstanceInactive, InstanceFailed:
		return true
	}
	return false
}

// PartitionInstance is one slice of a partitioned GPU device. Instances are
// created as a batch when a device is partitioned (indices contiguous from 0
// across the whole operation) and destroyed as a batch on teardown.
type PartitionInstance struct {
	ID         string         `json:"id"` // <device>-MIG-<index>
	DeviceID   string         `json:"device_id"`
	ProfileID  string         `json:"profile_id"`
	Index      int            `json:"index"`       // unique within the device
	HardwareID string         `json:"hardware_id"` // MIG-<uuid>, generated at creation
	Allocated  bool           `json:"allocated"`
	Status     InstanceStatus `json:"status"`

	CreatedAt       int64  `json:"created_at"` // UnixMilli
	LastAllocatedAt *int64 `json:"last_allocated_at,omitempty"`
	LastUsedAt      *int64 `json:"last_used_at,omitempty"`
}

// PartitionUsageStatistics summarizes partition instance utilization.
type PartitionUsageStatistics struct {
	TotalInstances     int                       `json:"total_instances"`
	AllocatedInstances int                       `json:"allocated_instances"`
	AvailableInstances int                       `json:"available_instances"`
	UtilizationPercent float64                   `json:"utilization_percent"`
	ByDevice           map[string]InstanceCounts `json:"by_device"`
	ByProfile          map[string]InstanceCounts `json:"by_profile"`
	Timestamp          int64                     `json:"timestamp"`
}

// InstanceCounts is a total/allocated pair for one grouping key.
type InstanceCounts struct {
	Total     int `json:"total"`
	Allocated int `json:"allocated"`
}
