package snapshot

import (
	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// ComputeSummary calculates entity counts and capacity totals for a snapshot.
// allocations is the full allocation list (all statuses); the snapshot itself
// carries only the active subset. cat resolves device memory sizes and usage
// supplies the latest utilization sample per device; both may be nil.
func ComputeSummary(snap *model.FleetSnapshot, allocations []model.Allocation, cat *catalog.Catalog, usage *store.UsageStore) model.FleetSummary {
	s := model.FleetSummary{
		NodeCount:      len(snap.Nodes),
		DeviceCount:    len(snap.Devices),
		PartitionCount: len(snap.Partitions),
		PodCount:       len(snap.Pods),
	}

	for i := range snap.Pods {
		if snap.Pods[i].RequestsGPU() {
			s.GPUPodCount++
		}
		for j := range snap.Pods[i].Containers {
			s.TotalGPURequested += snap.Pods[i].Containers[j].GPURequest
		}
	}

	for i := range snap.Devices {
		switch snap.Devices[i].Status {
		case model.DeviceActive:
			s.ActiveDevices++
		case model.DevicePartitioned:
			s.PartitionedDevices++
		case model.DeviceFailed:
			s.FailedDevices++
		case model.DeviceMaintenance:
			s.MaintenanceDevices++
		}
		if cat != nil {
			if m, err := cat.Model(snap.Devices[i].ModelID); err == nil {
				s.TotalMemoryGB += m.MemoryGB
			}
		}
	}

	for i := range allocations {
		switch allocations[i].Status {
		case model.AllocationAllocated:
			s.ActiveAllocations++
			s.AllocatedMemoryGB += allocations[i].GrantedMemoryGB
		case model.AllocationReleased:
			s.ReleasedAllocations++
		case model.AllocationExpired:
			s.ExpiredAllocations++
		}
	}

	for i := range snap.Partitions {
		if snap.Partitions[i].Allocated {
			s.AllocatedPartitions++
		} else if snap.Partitions[i].Status == model.InstanceActive {
			s.FreePartitions++
		}
	}

	for i := range snap.Nodes {
		s.TotalGPUCapacity += snap.Nodes[i].GPUCapacity
	}

	// Fleet-wide utilization and temperature from the latest usage sample
	// of each device.
	if usage != nil {
		var (
			utilSum   float64
			utilCount int
			tempSum   float64
			tempCount int
		)
		for i := range snap.Devices {
			sample, ok := usage.Latest(snap.Devices[i].ID)
			if !ok {
				continue
			}
			s.GPUMetricsAvailable = true
			if sample.UtilizationPercent != nil {
				utilSum += *sample.UtilizationPercent
				utilCount++
			}
			if sample.TemperatureC != nil {
				tempSum += *sample.TemperatureC
				tempCount++
			}
		}
		if utilCount > 0 {
			avg := utilSum / float64(utilCount)
			s.AvgUtilizationPct = &avg
		}
		if tempCount > 0 {
			avg := tempSum / float64(tempCount)
			s.AvgTemperatureC = &avg
		}
	}

	return s
}
