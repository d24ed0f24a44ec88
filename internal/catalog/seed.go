package catalog

import "github.com/duck3244/k8s-gpu-management/pkg/model"

// DefaultModels is the built-in GPU model reference data used when no
// external catalog is supplied.
func DefaultModels() []model.GPUModel {
	return []model.GPUModel{
		{ID: "H100-80GB", Name: "NVIDIA H100 80GB", Manufacturer: "NVIDIA", Architecture: "Hopper", MemoryGB: 80, PartitionSupport: true, MaxPartitions: 7, MarketSegment: "Datacenter", ComputeCapability: "9.0", PowerWatts: 700},
		{ID: "A100-80GB", Name: "NVIDIA A100 80GB", Manufacturer: "NVIDIA", Architecture: "Ampere", MemoryGB: 80, PartitionSupport: true, MaxPartitions: 7, MarketSegment: "Datacenter", ComputeCapability: "8.0", PowerWatts: 400},
		{ID: "A100-40GB", Name: "NVIDIA A100 40GB", Manufacturer: "NVIDIA", Architecture: "Ampere", MemoryGB: 40, PartitionSupport: true, MaxPartitions: 7, MarketSegment: "Datacenter", ComputeCapability: "8.0", PowerWatts: 400},
		{ID: "A30-24GB", Name: "NVIDIA A30 24GB", Manufacturer: "NVIDIA", Architecture: "Ampere", MemoryGB: 24, PartitionSupport: true, MaxPartitions: 4, MarketSegment: "Datacenter", ComputeCapability: "8.0", PowerWatts: 165},
		{ID: "L40S-48GB", Name: "NVIDIA L40S 48GB", Manufacturer: "NVIDIA", Architecture: "Ada Lovelace", MemoryGB: 48, PartitionSupport: false, MarketSegment: "Datacenter", ComputeCapability: "8.9", PowerWatts: 350},
		{ID: "T4-16GB", Name: "NVIDIA T4 16GB", Manufacturer: "NVIDIA", Architecture: "Turing", MemoryGB: 16, PartitionSupport: false, MarketSegment: "Inference", ComputeCapability: "7.5", PowerWatts: 70},
		{ID: "RTX4090-24GB", Name: "NVIDIA GeForce RTX 4090", Manufacturer: "NVIDIA", Architecture: "Ada Lovelace", MemoryGB: 24, PartitionSupport: false, MarketSegment: "Consumer", ComputeCapability: "8.9", PowerWatts: 450},
	}
}

// DefaultProfiles is the built-in partition profile reference data matching
// DefaultModels.
func DefaultProfiles() []model.PartitionProfile {
	return []model.PartitionProfile{
		{ID: "A100-80-1g.10gb", ModelID: "A100-80GB", Name: "1g.10gb", ComputeSlices: 1, MemorySlices: 1, MemoryGB: 10, MaxInstancesPerGPU: 7, PerformanceRatio: 0.14, UseCase: "Inference"},
		{ID: "A100-80-2g.20gb", ModelID: "A100-80GB", Name: "2g.20gb", ComputeSlices: 2, MemorySlices: 2, MemoryGB: 20, MaxInstancesPerGPU: 3, PerformanceRatio: 0.28, UseCase: "Light training"},
		{ID: "A100-80-3g.40gb", ModelID: "A100-80GB", Name: "3g.40gb", ComputeSlices: 3, MemorySlices: 4, MemoryGB: 40, MaxInstancesPerGPU: 2, PerformanceRatio: 0.43, UseCase: "Training"},
		{ID: "A100-80-7g.80gb", ModelID: "A100-80GB", Name: "7g.80gb", ComputeSlices: 7, MemorySlices: 8, MemoryGB: 80, MaxInstancesPerGPU: 1, PerformanceRatio: 1.0, UseCase: "Full GPU workload"},
		{ID: "A100-40-1g.5gb", ModelID: "A100-40GB", Name: "1g.5gb", ComputeSlices: 1, MemorySlices: 1, MemoryGB: 5, MaxInstancesPerGPU: 7, PerformanceRatio: 0.14, UseCase: "Inference"},
		{ID: "A100-40-2g.10gb", ModelID: "A100-40GB", Name: "2g.10gb", ComputeSlices: 2, MemorySlices: 2, MemoryGB: 10, MaxInstancesPerGPU: 3, PerformanceRatio: 0.28, UseCase: "Light training"},
		{ID: "A100-40-3g.20gb", ModelID: "A100-40GB", Name: "3g.20gb", ComputeSlices: 3, MemorySlices: 4, MemoryGB: 20, MaxInstancesPerGPU: 2, PerformanceRatio: 0.43, UseCase: "Training"},
		{ID: "H100-80-1g.10gb", ModelID: "H100-80GB", Name: "1g.10gb", ComputeSlices: 1, MemorySlices: 1, MemoryGB: 10, MaxInstancesPerGPU: 7, PerformanceRatio: 0.14, UseCase: "Inference"},
		{ID: "H100-80-3g.40gb", ModelID: "H100-80GB", Name: "3g.40gb", ComputeSlices: 3, MemorySlices: 4, MemoryGB: 40, MaxInstancesPerGPU: 2, PerformanceRatio: 0.43, UseCase: "Training"},
		{ID: "A30-24-1g.6gb", ModelID: "A30-24GB", Name: "1g.6gb", ComputeSlices: 1, MemorySlices: 1, MemoryGB: 6, MaxInstancesPerGPU: 4, PerformanceRatio: 0.25, UseCase: "Inference"},
		{ID: "A30-24-2g.12gb", ModelID: "A30-24GB", Name: "2g.12gb", ComputeSlices: 2, MemorySlices: 2, MemoryGB: 12, MaxInstancesPerGPU: 2, PerformanceRatio: 0.5, UseCase: "Light training"},
	}
}

// Seed loads models then profiles into the catalog. The first error aborts
// the seed.
func (c *Catalog) Seed(models []model.GPUModel, profiles []model.PartitionProfile) error {
	for _, m := range models {
		if err := c.AddModel(m); err != nil {
			return err
		}
	}
	for _, p := range profiles {
		if err := c.AddProfile(p); err != nil {
			return err
		}
	}
	return nil
}
