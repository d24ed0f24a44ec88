// Package allocation binds workloads to GPU resources for bounded spans of
// time and keeps the cost-bearing allocation ledger.
package allocation

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/cost"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Engine matches allocation requests to resources and drives the allocation
// lifecycle. Matching and marking run under the owning device's keyed lock,
// so a resource can never be granted twice.
type Engine struct {
	store     *store.Store
	catalog   *catalog.Catalog
	estimator *cost.Estimator
	clock     errors.Clock
	logger    *slog.Logger
}

// New creates an Engine.
func New(st *store.Store, cat *catalog.Catalog, est *cost.Estimator, clock errors.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		catalog:   cat,
		estimator: est,
		clock:     clock,
		logger:    logger.With("component", "allocation"),
	}
}

// newAllocationID builds an ALLOC- id from the first uuid segment.
func newAllocationID() string {
	return "ALLOC-" + strings.ToUpper(uuid.NewString()[:8])
}

// Allocate matches a request first-fit against partition instances or whole
// devices, marks the winner, and records the allocation. The granted memory
// is the matched resource's capacity, never the requested amount.
func (e *Engine) Allocate(req model.AllocationRequest) (model.Allocation, error) {
	if req.Namespace == "" || req.PodName == "" {
		return model.Allocation{}, errors.InvalidOperation("namespace and pod name are required")
	}
	if req.RequiredMemoryGB < 0 {
		return model.Allocation{}, errors.InvalidOperation("required memory must be non-negative")
	}
	if req.PlannedReleaseAt != nil && *req.PlannedReleaseAt <= e.clock.Now().UnixMilli() {
		return model.Allocation{}, errors.InvalidOperation("planned release must be in the future")
	}

	if req.UsePartition {
		return e.allocatePartition(req)
	}
	return e.allocateDevice(req)
}

// allocatePartition scans unallocated instances in creation order and takes
// the first one satisfying the constraints.
func (e *Engine) allocatePartition(req model.AllocationRequest) (model.Allocation, error) {
	for _, inst := range e.store.Instances.Values() {
		if inst.Allocated || inst.Status != model.InstanceActive {
			continue
		}
		profile, err := e.catalog.Profile(inst.ProfileID)
		if err != nil {
			continue
		}
		if req.RequiredMemoryGB > 0 && profile.MemoryGB < req.RequiredMemoryGB {
			continue
		}
		dev, ok := e.store.Devices.Get(inst.DeviceID)
		if !ok {
			continue
		}
		// Partitions filter on the preferred model only; the architecture
		// preference applies to whole-device matching.
		if req.PreferredModelID != "" && dev.ModelID != req.PreferredModelID {
			continue
		}

		alloc, ok := e.tryTakeInstance(inst.ID, profile.MemoryGB, req)
		if ok {
			return alloc, nil
		}
	}
	return model.Allocation{}, errors.ResourceExhausted("no partition instance satisfies the request")
}

// tryTakeInstance re-checks and marks one instance under its device lock.
func (e *Engine) tryTakeInstance(instanceID string, memoryGB int, req model.AllocationRequest) (model.Allocation, bool) {
	inst, ok := e.store.Instances.Get(instanceID)
	if !ok {
		return model.Allocation{}, false
	}

	e.store.DeviceLocks.Lock(inst.DeviceID)
	defer e.store.DeviceLocks.Unlock(inst.DeviceID)

	inst, ok = e.store.Instances.Get(instanceID)
	if !ok || inst.Allocated || inst.Status != model.InstanceActive {
		return model.Allocation{}, false
	}

	now := e.clock.Now().UnixMilli()
	inst.Allocated = true
	inst.LastAllocatedAt = &now
	e.store.Instances.Set(inst.ID, inst)

	alloc := e.record(model.KindPartitionInstance, inst.ID, memoryGB, req, now)
	return alloc, true
}

// allocateDevice scans ACTIVE devices in registration order and takes the
// first free one satisfying the constraints.
func (e *Engine) allocateDevice(req model.AllocationRequest) (model.Allocation, error) {
	for _, dev := range e.store.Devices.Values() {
		if dev.Status != model.DeviceActive {
			continue
		}
		m, err := e.catalog.Model(dev.ModelID)
		if err != nil {
			continue
		}
		if req.RequiredMemoryGB > 0 && m.MemoryGB < req.RequiredMemoryGB {
			continue
		}
		if !e.modelMatches(dev.ModelID, req) {
			continue
		}

		alloc, ok := e.tryTakeDevice(dev.ID, m.MemoryGB, req)
		if ok {
			return alloc, nil
		}
	}
	return model.Allocation{}, errors.ResourceExhausted("no device satisfies the request")
}

// tryTakeDevice re-checks device status and freedom under the device lock.
func (e *Engine) tryTakeDevice(deviceID string, memoryGB int, req model.AllocationRequest) (model.Allocation, bool) {
	e.store.DeviceLocks.Lock(deviceID)
	defer e.store.DeviceLocks.Unlock(deviceID)

	dev, ok := e.store.Devices.Get(deviceID)
	if !ok || dev.Status != model.DeviceActive {
		return model.Allocation{}, false
	}
	for _, a := range e.store.Allocations.Values() {
		if a.Status == model.AllocationAllocated &&
			a.ResourceKind == model.KindFullDevice && a.ResourceID == deviceID {
			return model.Allocation{}, false
		}
	}

	now := e.clock.Now().UnixMilli()
	alloc := e.record(model.KindFullDevice, deviceID, memoryGB, req, now)
	return alloc, true
}

// record writes the allocation; the caller holds the device lock.
func (e *Engine) record(kind model.ResourceKind, resourceID string, memoryGB int, req model.AllocationRequest, now int64) model.Allocation {
	alloc := model.Allocation{
		ID:            newAllocationID(),
		Namespace:     req.Namespace,
		PodName:       req.PodName,
		ContainerName: req.ContainerName,
		WorkloadType:  req.WorkloadType,

		ResourceKind: kind,
		ResourceID:   resourceID,

		RequestedMemoryGB: req.RequiredMemoryGB,
		GrantedMemoryGB:   memoryGB,
		PriorityClass:     req.PriorityClass,

		AllocatedAt:      now,
		PlannedReleaseAt: req.PlannedReleaseAt,
		Status:           model.AllocationAllocated,

		HourlyRate: e.estimator.RateFor(kind, resourceID),

		UserID:    req.UserID,
		TeamID:    req.TeamID,
		ProjectID: req.ProjectID,
	}
	e.store.Allocations.Set(alloc.ID, alloc)

	e.logger.Info("allocation created",
		"allocation_id", alloc.ID,
		"resource_kind", kind,
		"resource_id", resourceID,
		"namespace", req.Namespace,
		"pod", req.PodName,
		"granted_memory_gb", memoryGB,
		"hourly_rate", alloc.HourlyRate)
	return alloc
}

// Release closes an allocation, finalizes its cost, and frees the resource.
// Releasing a terminal allocation fails with InvalidOperation.
func (e *Engine) Release(allocationID string) (model.Allocation, error) {
	a, ok := e.store.Allocations.Get(allocationID)
	if !ok {
		return model.Allocation{}, errors.NotFound("allocation %s not found", allocationID)
	}

	deviceID := e.owningDevice(a)
	e.store.DeviceLocks.Lock(deviceID)
	defer e.store.DeviceLocks.Unlock(deviceID)

	a, ok = e.store.Allocations.Get(allocationID)
	if !ok {
		return model.Allocation{}, errors.NotFound("allocation %s not found", allocationID)
	}
	if a.Status.Terminal() {
		return model.Allocation{}, errors.InvalidOperation("allocation %s is already %s", a.ID, a.Status)
	}

	e.finalize(&a, model.AllocationReleased)
	e.logger.Info("allocation released",
		"allocation_id", a.ID,
		"resource_id", a.ResourceID,
		"total_cost", a.TotalCost)
	return a, nil
}

// AutoExpire closes every open allocation whose planned release time has
// passed and returns how many were expired. Records that lose the race to a
// concurrent Release are skipped.
func (e *Engine) AutoExpire() int {
	now := e.clock.Now().UnixMilli()
	expired := 0
	for _, a := range e.store.Allocations.Values() {
		if a.Status != model.AllocationAllocated || a.PlannedReleaseAt == nil || *a.PlannedReleaseAt > now {
			continue
		}
		if e.expireOne(a.ID) {
			expired++
		}
	}
	if expired > 0 {
		e.logger.Info("expiry sweep finished", "expired", expired)
	}
	return expired
}

// expireOne re-checks one allocation under its device lock; losers no-op.
func (e *Engine) expireOne(allocationID string) bool {
	a, ok := e.store.Allocations.Get(allocationID)
	if !ok {
		return false
	}

	deviceID := e.owningDevice(a)
	e.store.DeviceLocks.Lock(deviceID)
	defer e.store.DeviceLocks.Unlock(deviceID)

	a, ok = e.store.Allocations.Get(allocationID)
	if !ok || a.Status.Terminal() {
		return false
	}

	e.finalize(&a, model.AllocationExpired)
	e.logger.Info("allocation expired",
		"allocation_id", a.ID,
		"resource_id", a.ResourceID,
		"total_cost", a.TotalCost)
	return true
}

// ForceExpire closes one allocation regardless of its planned release time.
// Used by the partition manager when reclaiming an instance out from under
// a live allocation. Terminal records are left alone.
func (e *Engine) ForceExpire(allocationID string) error {
	a, ok := e.store.Allocations.Get(allocationID)
	if !ok {
		return errors.NotFound("allocation %s not found", allocationID)
	}

	deviceID := e.owningDevice(a)
	e.store.DeviceLocks.Lock(deviceID)
	defer e.store.DeviceLocks.Unlock(deviceID)

	a, ok = e.store.Allocations.Get(allocationID)
	if !ok {
		return errors.NotFound("allocation %s not found", allocationID)
	}
	if a.Status.Terminal() {
		return nil
	}

	e.finalize(&a, model.AllocationExpired)
	e.logger.Warn("allocation force-expired",
		"allocation_id", a.ID,
		"resource_id", a.ResourceID,
		"total_cost", a.TotalCost)
	return nil
}

// finalize stamps the end of an allocation: terminal status, release time,
// billed cost, and the freed resource. Caller holds the device lock.
func (e *Engine) finalize(a *model.Allocation, status model.AllocationStatus) {
	now := e.clock.Now().UnixMilli()
	a.Status = status
	a.ReleasedAt = &now

	total := a.HourlyRate.Mul(decimal.NewFromInt(billedHours(a.AllocatedAt, now)))
	a.TotalCost = &total
	e.store.Allocations.Set(a.ID, *a)

	if a.ResourceKind == model.KindPartitionInstance {
		if inst, ok := e.store.Instances.Get(a.ResourceID); ok {
			inst.Allocated = false
			inst.LastUsedAt = &now
			e.store.Instances.Set(inst.ID, inst)
		}
	}
}

// billedHours is the ceiling of the elapsed time in hours, minimum one.
// A 90 minute allocation bills two hours.
func billedHours(fromMilli, toMilli int64) int64 {
	elapsed := toMilli - fromMilli
	if elapsed <= 0 {
		return 1
	}
	const hourMilli = int64(time.Hour / time.Millisecond)
	hours := (elapsed + hourMilli - 1) / hourMilli
	if hours < 1 {
		return 1
	}
	return hours
}

// owningDevice resolves the device id whose lock serializes this record.
func (e *Engine) owningDevice(a model.Allocation) string {
	if a.ResourceKind == model.KindFullDevice {
		return a.ResourceID
	}
	if inst, ok := e.store.Instances.Get(a.ResourceID); ok {
		return inst.DeviceID
	}
	// Instance already destroyed; fall back to the instance id so the
	// transition still serializes on a stable key.
	return a.ResourceID
}

// modelMatches applies the request's model and architecture constraints to a
// whole-device candidate.
func (e *Engine) modelMatches(modelID string, req model.AllocationRequest) bool {
	if req.PreferredModelID != "" && modelID != req.PreferredModelID {
		return false
	}
	if req.PreferredArchitecture != "" {
		m, err := e.catalog.Model(modelID)
		if err != nil || m.Architecture != req.PreferredArchitecture {
			return false
		}
	}
	return true
}
