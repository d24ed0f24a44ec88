// Package partition manages the slicing of GPU devices into isolated
// partition instances. Instances are created and destroyed only as whole
// batches per device.
package partition

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Finalizer closes out an allocation that lost its backing resource. The
// allocation engine provides it; the manager calls it when a reclaimed
// instance is still referenced by a live allocation.
type Finalizer interface {
	ForceExpire(allocationID string) error
}

// Manager creates and destroys partition instances. All mutations run under
// the owning device's keyed lock.
type Manager struct {
	store    *store.Store
	catalog  *catalog.Catalog
	registry *registry.Registry
	clock    errors.Clock
	logger   *slog.Logger

	finalizer Finalizer
}

// New creates a Manager. The finalizer is wired after construction because
// the allocation engine depends on this manager too.
func New(st *store.Store, cat *catalog.Catalog, reg *registry.Registry, clock errors.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		catalog:  cat,
		registry: reg,
		clock:    clock,
		logger:   logger.With("component", "partition"),
	}
}

// SetFinalizer wires the allocation finalizer used by CleanupUnused.
func (m *Manager) SetFinalizer(f Finalizer) { m.finalizer = f }

// InstanceID derives the instance id from its device and batch index.
func InstanceID(deviceID string, index int) string {
	return fmt.Sprintf("%s-MIG-%02d", deviceID, index)
}

// CreatePartitions slices a device into instances of the given profiles.
// Each requested profile id expands into that profile's full per-device
// instance count, so ["2g.20gb", "3g.40gb"] on an A100 yields three 20 GB
// and two 40 GB instances. Any existing batch is destroyed and rebuilt;
// indices are contiguous from 0 across the whole batch. The device must be
// ACTIVE or already PARTITIONED, its model must support partitioning, and
// the device must be fully idle: no open whole-device allocation and no
// allocated instance.
func (m *Manager) CreatePartitions(deviceID string, profileIDs []string) ([]model.PartitionInstance, error) {
	if len(profileIDs) == 0 {
		return nil, errors.InvalidOperation("at least one profile is required")
	}

	m.store.DeviceLocks.Lock(deviceID)
	defer m.store.DeviceLocks.Unlock(deviceID)

	dev, ok := m.store.Devices.Get(deviceID)
	if !ok {
		return nil, errors.NotFound("device %s not found", deviceID)
	}
	if dev.Status != model.DeviceActive && dev.Status != model.DevicePartitioned {
		return nil, errors.InvalidOperation("device %s is %s and cannot be partitioned", deviceID, dev.Status)
	}

	gpuModel, err := m.catalog.Model(dev.ModelID)
	if err != nil {
		return nil, err
	}
	if !gpuModel.PartitionSupport {
		return nil, errors.InvalidOperation("model %s does not support partitioning", gpuModel.ID)
	}

	// Resolve all profiles before touching state; the batch is all-or-nothing.
	profiles := make([]model.PartitionProfile, 0, len(profileIDs))
	for _, pid := range profileIDs {
		p, err := m.catalog.Profile(pid)
		if err != nil {
			return nil, err
		}
		if p.ModelID != gpuModel.ID {
			return nil, errors.InvalidOperation("profile %s targets model %s, device is %s",
				p.ID, p.ModelID, gpuModel.ID)
		}
		profiles = append(profiles, p)
	}

	// Repartitioning requires a fully idle device. An open whole-device
	// allocation or an allocated instance pins the current layout.
	for _, a := range m.store.Allocations.Values() {
		if a.Status == model.AllocationAllocated &&
			a.ResourceKind == model.KindFullDevice && a.ResourceID == deviceID {
			return nil, errors.Conflict("device %s is held by allocation %s; release it before partitioning",
				deviceID, a.ID)
		}
	}
	existing := m.instancesOf(deviceID)
	for _, inst := range existing {
		if inst.Allocated {
			return nil, errors.Conflict("instance %s is allocated; release it before repartitioning", inst.ID)
		}
	}
	for _, inst := range existing {
		m.store.Instances.Delete(inst.ID)
	}

	now := m.clock.Now().UnixMilli()
	var created []model.PartitionInstance
	index := 0
	for _, p := range profiles {
		for i := 0; i < p.MaxInstancesPerGPU; i++ {
			inst := model.PartitionInstance{
				ID:         InstanceID(deviceID, index),
				DeviceID:   deviceID,
				ProfileID:  p.ID,
				Index:      index,
				HardwareID: "MIG-" + uuid.NewString(),
				Status:     model.InstanceActive,
				CreatedAt:  now,
			}
			m.store.Instances.Set(inst.ID, inst)
			created = append(created, inst)
			index++
		}
	}

	dev.Status = model.DevicePartitioned
	m.store.Devices.Set(deviceID, dev)
	m.registry.RecomputeNodeCounts(dev.NodeName)

	m.logger.Info("device partitioned",
		"device_id", deviceID,
		"instances", len(created),
		"profiles", profileIDs)
	return created, nil
}

// DeletePartitions destroys a device's whole instance batch and returns the
// device to ACTIVE. Fails with Conflict if any instance is allocated.
func (m *Manager) DeletePartitions(deviceID string) error {
	m.store.DeviceLocks.Lock(deviceID)
	defer m.store.DeviceLocks.Unlock(deviceID)

	dev, ok := m.store.Devices.Get(deviceID)
	if !ok {
		return errors.NotFound("device %s not found", deviceID)
	}
	if dev.Status != model.DevicePartitioned {
		return errors.InvalidOperation("device %s is not partitioned", deviceID)
	}

	existing := m.instancesOf(deviceID)
	for _, inst := range existing {
		if inst.Allocated {
			return errors.Conflict("instance %s is allocated; release it before deleting partitions", inst.ID)
		}
	}
	for _, inst := range existing {
		m.store.Instances.Delete(inst.ID)
	}

	dev.Status = model.DeviceActive
	m.store.Devices.Set(deviceID, dev)
	m.registry.RecomputeNodeCounts(dev.NodeName)

	m.logger.Info("partitions deleted", "device_id", deviceID, "instances", len(existing))
	return nil
}

// FindAvailableInstances returns unallocated ACTIVE instances, optionally
// restricted to one device, in creation order.
func (m *Manager) FindAvailableInstances(deviceID string) []model.PartitionInstance {
	var out []model.PartitionInstance
	for _, inst := range m.store.Instances.Values() {
		if deviceID != "" && inst.DeviceID != deviceID {
			continue
		}
		if inst.Allocated || inst.Status != model.InstanceActive {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// InstancesByDevice returns all instances of a device in creation order.
func (m *Manager) InstancesByDevice(deviceID string) []model.PartitionInstance {
	return m.instancesOf(deviceID)
}

// CleanupUnused reclaims instances whose last allocation ended before
// olderThan (UnixMilli); instances never allocated are aged by creation
// time. A live allocation still referencing a reclaimed instance is
// force-expired first so no active record points at a free instance.
// Returns the ids of reclaimed instances.
func (m *Manager) CleanupUnused(olderThan int64) []string {
	var reclaimed []string
	for _, inst := range m.store.Instances.Values() {
		reclaimed = append(reclaimed, m.cleanupOne(inst.ID, olderThan)...)
	}
	return reclaimed
}

// cleanupOne reclaims a single instance. The referencing allocation is
// force-expired before the device lock is taken: ForceExpire acquires that
// lock itself. The reclaim then re-checks under the lock; an instance
// re-allocated in the window is left alone.
func (m *Manager) cleanupOne(instanceID string, olderThan int64) []string {
	inst, ok := m.store.Instances.Get(instanceID)
	if !ok || lastActivity(inst) >= olderThan {
		return nil
	}

	if inst.Allocated {
		for _, a := range m.store.Allocations.Values() {
			if a.Status != model.AllocationAllocated {
				continue
			}
			if a.ResourceKind != model.KindPartitionInstance || a.ResourceID != inst.ID {
				continue
			}
			if m.finalizer == nil {
				m.logger.Warn("cannot reclaim allocated instance without finalizer", "instance_id", inst.ID)
				return nil
			}
			if err := m.finalizer.ForceExpire(a.ID); err != nil {
				m.logger.Warn("force-expire failed, skipping instance",
					"instance_id", inst.ID, "allocation_id", a.ID, "error", err)
				return nil
			}
		}
	}

	m.store.DeviceLocks.Lock(inst.DeviceID)
	defer m.store.DeviceLocks.Unlock(inst.DeviceID)

	inst, ok = m.store.Instances.Get(instanceID)
	if !ok || inst.Allocated {
		return nil
	}
	inst.Status = model.InstanceInactive
	m.store.Instances.Set(inst.ID, inst)

	m.logger.Info("instance reclaimed", "instance_id", inst.ID, "device_id", inst.DeviceID)
	return []string{inst.ID}
}

// lastActivity is the newest of creation, last allocation, and last use.
func lastActivity(inst model.PartitionInstance) int64 {
	ts := inst.CreatedAt
	if inst.LastAllocatedAt != nil && *inst.LastAllocatedAt > ts {
		ts = *inst.LastAllocatedAt
	}
	if inst.LastUsedAt != nil && *inst.LastUsedAt > ts {
		ts = *inst.LastUsedAt
	}
	return ts
}

// UsageStatistics summarizes instance allocation across the fleet.
func (m *Manager) UsageStatistics() model.PartitionUsageStatistics {
	stats := model.PartitionUsageStatistics{
		ByDevice:  make(map[string]model.InstanceCounts),
		ByProfile: make(map[string]model.InstanceCounts),
		Timestamp: m.clock.Now().UnixMilli(),
	}
	for _, inst := range m.store.Instances.Values() {
		stats.TotalInstances++
		byDev := stats.ByDevice[inst.DeviceID]
		byProf := stats.ByProfile[inst.ProfileID]
		byDev.Total++
		byProf.Total++
		if inst.Allocated {
			stats.AllocatedInstances++
			byDev.Allocated++
			byProf.Allocated++
		} else if inst.Status == model.InstanceActive {
			stats.AvailableInstances++
		}
		stats.ByDevice[inst.DeviceID] = byDev
		stats.ByProfile[inst.ProfileID] = byProf
	}
	if stats.TotalInstances > 0 {
		stats.UtilizationPercent = float64(stats.AllocatedInstances) / float64(stats.TotalInstances) * 100
	}
	return stats
}

func (m *Manager) instancesOf(deviceID string) []model.PartitionInstance {
	var out []model.PartitionInstance
	for _, inst := range m.store.Instances.Values() {
		if inst.DeviceID == deviceID {
			out = append(out, inst)
		}
	}
	return out
}
