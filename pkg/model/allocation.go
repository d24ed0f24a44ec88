package model

import "github.com/shopspring/decimal"

// AllocationStatus is the lifecycle status of an allocation record.
// Allocated is the only non-terminal status: it transitions to Released on
// explicit release and to Expired when the planned release time passes.
// Failed matches never produce a record at all.
type AllocationStatus string

// Allocation statuses.
const (
	AllocationAllocated AllocationStatus = "ALLOCATED"
	AllocationReleased  AllocationStatus = "RELEASED"
	AllocationExpired   AllocationStatus = "EXPIRED"
)

// Terminal reports whether no further transition may leave s.
func (s AllocationStatus) Terminal() bool {
	return s == AllocationReleased || s == AllocationExpired
}

// ResourceKind distinguishes whole-device allocations from partition slices.
type ResourceKind string

// Allocatable resource kinds.
const (
	KindFullDevice        ResourceKind = "FULL_DEVICE"
	KindPartitionInstance ResourceKind = "PARTITION_INSTANCE"
)

// Allocation is the transactional record binding a workload to a GPU
// resource for a span of time. Records are never deleted; terminal records
// are the fleet's cost history.
type Allocation struct {
	ID            string `json:"id"` // ALLOC-<short uuid>
	Namespace     string `json:"namespace"`
	PodName       string `json:"pod_name"`
	ContainerName string `json:"container_name,omitempty"`
	WorkloadType  string `json:"workload_type,omitempty"` // Training, Inference, Development

	ResourceKind ResourceKind `json:"resource_kind"`
	ResourceID   string       `json:"resource_id"` // device id or instance id

	RequestedMemoryGB int    `json:"requested_memory_gb"`
	GrantedMemoryGB   int    `json:"granted_memory_gb"`
	PriorityClass     string `json:"priority_class,omitempty"`

	AllocatedAt      int64  `json:"allocated_at"` // UnixMilli
	PlannedReleaseAt *int64 `json:"planned_release_at,omitempty"`
	ReleasedAt       *int64 `json:"released_at,omitempty"`

	Status AllocationStatus `json:"status"`

	HourlyRate decimal.Decimal  `json:"hourly_rate"`          // fixed at allocation time
	TotalCost  *decimal.Decimal `json:"total_cost,omitempty"` // finalized at release/expiry

	UserID    string `json:"user_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// AllocationRequest carries the caller's constraints for a new allocation.
type AllocationRequest struct {
	Namespace     string `json:"namespace"`
	PodName       string `json:"pod_name"`
	ContainerName string `json:"container_name,omitempty"`
	WorkloadType  string `json:"workload_type,omitempty"`

	UsePartition          bool   `json:"use_partition"`
	RequiredMemoryGB      int    `json:"required_memory_gb"`
	PreferredModelID      string `json:"preferred_model_id,omitempty"`
	PreferredArchitecture string `json:"preferred_architecture,omitempty"`

	PlannedReleaseAt *int64 `json:"planned_release_at,omitempty"` // UnixMilli
	PriorityClass    string `json:"priority_class,omitempty"`

	UserID    string `json:"user_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// GroupCostStats is a count/total/average bundle for one grouping key in the
// allocation cost statistics.
type GroupCostStats struct {
	Count     int             `json:"count"`
	TotalCost decimal.Decimal `json:"total_cost"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
}

// AllocationCostStatistics buckets realized allocation cost by namespace,
// team, and workload type.
type AllocationCostStatistics struct {
	ByNamespace    map[string]GroupCostStats `json:"by_namespace"`
	ByTeam         map[string]GroupCostStats `json:"by_team"`
	ByWorkloadType map[string]GroupCostStats `json:"by_workload_type"`
	Timestamp      int64                     `json:"timestamp"`
}
