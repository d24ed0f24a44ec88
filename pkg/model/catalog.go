package model

// GPUModel is immutable reference data describing a GPU product: memory,
// architecture, and whether (and how finely) it can be partitioned.
// Catalog entries are seeded at boot and never mutated at runtime.
type GPUModel struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Manufacturer      string `json:"manufacturer"`
	Architecture      string `json:"architecture"` // Pascal, Turing, Ampere, Hopper, Ada Lovelace
	MemoryGB          int    `json:"memory_gb"`
	PartitionSupport  bool   `json:"partition_support"`
	MaxPartitions     int    `json:"max_partitions"`
	MarketSegment     string `json:"market_segment"` // Gaming, Professional, Datacenter
	ComputeCapability string `json:"compute_capability,omitempty"`
	PowerWatts        int    `json:"power_watts,omitempty"`
}

// PartitionProfile is a named partition shape for one GPU model: how many
// compute and memory slices an instance gets, the resulting memory, and how
// many instances of this shape fit on a single device.
type PartitionProfile struct {
	ID                 string  `json:"id"`
	ModelID            string  `json:"model_id"`
	Name               string  `json:"name"` // e.g. 1g.5gb, 2g.10gb, 3g.20gb
	ComputeSlices      int     `json:"compute_slices"`
	MemorySlices       int     `json:"memory_slices"`
	MemoryGB           int     `json:"memory_gb"`
	MaxInstancesPerGPU int     `json:"max_instances_per_gpu"`
	PerformanceRatio   float64 `json:"performance_ratio"` // relative to the whole device, 0..1
	UseCase            string  `json:"use_case,omitempty"`
	Description        string  `json:"description,omitempty"`
}
