// Package registry is the inventory of physical GPU devices and the nodes
// hosting them. It is the source of truth for device identity, status, and
// live telemetry.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Registry manages GPU device records. Device mutations run under the
// per-device keyed lock shared with the partition manager and the
// allocation engine.
type Registry struct {
	store   *store.Store
	catalog *catalog.Catalog
	clock   errors.Clock
	logger  *slog.Logger
}

// New creates a Registry over the fleet store and catalog.
func New(st *store.Store, cat *catalog.Catalog, clock errors.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		store:   st,
		catalog: cat,
		clock:   clock,
		logger:  logger.With("component", "registry"),
	}
}

// DeviceID derives the fleet-wide device id from node name and slot index.
func DeviceID(nodeName string, slotIndex int) string {
	return fmt.Sprintf("%s-GPU-%02d", nodeName, slotIndex)
}

// Register adds a physical GPU to the inventory. The node and model must
// exist, the hardware id must be unused, and the node/slot pair must be
// free. New devices start ACTIVE.
func (r *Registry) Register(req model.DeviceRegistration) (model.GPUDevice, error) {
	if req.HardwareID == "" {
		return model.GPUDevice{}, errors.InvalidOperation("hardware id is required")
	}
	if req.SlotIndex < 0 {
		return model.GPUDevice{}, errors.InvalidOperation("slot index must be non-negative")
	}
	if _, ok := r.store.Nodes.Get(req.NodeName); !ok {
		return model.GPUDevice{}, errors.NotFound("node %s not found", req.NodeName)
	}
	if _, err := r.catalog.Model(req.ModelID); err != nil {
		return model.GPUDevice{}, err
	}

	id := DeviceID(req.NodeName, req.SlotIndex)
	r.store.DeviceLocks.Lock(id)
	defer r.store.DeviceLocks.Unlock(id)

	if _, ok := r.store.Devices.Get(id); ok {
		return model.GPUDevice{}, errors.Conflict("device %s already registered", id)
	}
	for _, d := range r.store.Devices.Values() {
		if d.HardwareID == req.HardwareID {
			return model.GPUDevice{}, errors.Conflict("hardware id %s already registered as %s", req.HardwareID, d.ID)
		}
	}

	dev := model.GPUDevice{
		ID:           id,
		NodeName:     req.NodeName,
		ModelID:      req.ModelID,
		SlotIndex:    req.SlotIndex,
		HardwareID:   req.HardwareID,
		Status:       model.DeviceActive,
		RegisteredAt: r.clock.Now().UnixMilli(),
	}
	r.store.Devices.Set(id, dev)
	r.RecomputeNodeCounts(req.NodeName)

	r.logger.Info("device registered",
		"device_id", id,
		"node", req.NodeName,
		"model", req.ModelID,
		"hardware_id", req.HardwareID)
	return dev, nil
}

// SetStatus changes a device's operating status. PARTITIONED is owned by
// the partition manager and rejected here, both as target and as a state to
// leave.
func (r *Registry) SetStatus(deviceID string, status model.DeviceStatus) error {
	if !status.Valid() {
		return errors.InvalidOperation("unknown device status %q", status)
	}
	if status == model.DevicePartitioned {
		return errors.InvalidOperation("PARTITIONED is set only by partitioning")
	}

	r.store.DeviceLocks.Lock(deviceID)
	defer r.store.DeviceLocks.Unlock(deviceID)

	dev, ok := r.store.Devices.Get(deviceID)
	if !ok {
		return errors.NotFound("device %s not found", deviceID)
	}
	if dev.Status == model.DevicePartitioned {
		return errors.InvalidOperation("device %s is partitioned; delete partitions first", deviceID)
	}

	dev.Status = status
	r.store.Devices.Set(deviceID, dev)
	r.RecomputeNodeCounts(dev.NodeName)

	r.logger.Info("device status changed", "device_id", deviceID, "status", status)
	return nil
}

// RecordTelemetry upserts live temperature and power readings for a device.
// Unknown devices are ignored so telemetry for unregistered hardware does
// not fail the scrape.
func (r *Registry) RecordTelemetry(deviceID string, tempC, powerW *float64) {
	r.store.DeviceLocks.Lock(deviceID)
	defer r.store.DeviceLocks.Unlock(deviceID)

	dev, ok := r.store.Devices.Get(deviceID)
	if !ok {
		return
	}
	if tempC != nil {
		dev.TemperatureC = tempC
	}
	if powerW != nil {
		dev.PowerW = powerW
	}
	r.store.Devices.Set(deviceID, dev)
}

// DeviceByHardwareID finds a device by its hardware UUID. Used to match
// scraped DCGM telemetry, which identifies GPUs by UUID, back to inventory
// records.
func (r *Registry) DeviceByHardwareID(hardwareID string) (model.GPUDevice, bool) {
	if hardwareID == "" {
		return model.GPUDevice{}, false
	}
	for _, dev := range r.store.Devices.Values() {
		if dev.HardwareID == hardwareID {
			return dev, true
		}
	}
	return model.GPUDevice{}, false
}

// Delete removes a device from the inventory. Only ACTIVE or INACTIVE
// devices may be deleted; a partitioned device or one with a live
// allocation is in use.
func (r *Registry) Delete(deviceID string) error {
	r.store.DeviceLocks.Lock(deviceID)
	defer r.store.DeviceLocks.Unlock(deviceID)

	dev, ok := r.store.Devices.Get(deviceID)
	if !ok {
		return errors.NotFound("device %s not found", deviceID)
	}
	if dev.Status != model.DeviceActive && dev.Status != model.DeviceInactive {
		return errors.Conflict("device %s is %s and cannot be deleted", deviceID, dev.Status)
	}
	for _, a := range r.store.Allocations.Values() {
		if a.Status == model.AllocationAllocated &&
			a.ResourceKind == model.KindFullDevice && a.ResourceID == deviceID {
			return errors.Conflict("device %s has active allocation %s", deviceID, a.ID)
		}
	}

	r.store.Devices.Delete(deviceID)
	r.RecomputeNodeCounts(dev.NodeName)

	r.logger.Info("device deleted", "device_id", deviceID, "node", dev.NodeName)
	return nil
}

// Device returns the device with the given id.
func (r *Registry) Device(id string) (model.GPUDevice, error) {
	dev, ok := r.store.Devices.Get(id)
	if !ok {
		return model.GPUDevice{}, errors.NotFound("device %s not found", id)
	}
	return dev, nil
}

// List returns all devices in registration order.
func (r *Registry) List() []model.GPUDevice {
	return r.store.Devices.Values()
}

// DevicesByNode returns the devices installed in a node.
func (r *Registry) DevicesByNode(nodeName string) []model.GPUDevice {
	var out []model.GPUDevice
	for _, d := range r.store.Devices.Values() {
		if d.NodeName == nodeName {
			out = append(out, d)
		}
	}
	return out
}

// DevicesByModel returns the devices of a given GPU model.
func (r *Registry) DevicesByModel(modelID string) []model.GPUDevice {
	var out []model.GPUDevice
	for _, d := range r.store.Devices.Values() {
		if d.ModelID == modelID {
			out = append(out, d)
		}
	}
	return out
}

// FindAvailable returns ACTIVE devices with no live full-device allocation,
// in registration order.
func (r *Registry) FindAvailable() []model.GPUDevice {
	busy := make(map[string]struct{})
	for _, a := range r.store.Allocations.Values() {
		if a.Status == model.AllocationAllocated && a.ResourceKind == model.KindFullDevice {
			busy[a.ResourceID] = struct{}{}
		}
	}
	var out []model.GPUDevice
	for _, d := range r.store.Devices.Values() {
		if d.Status != model.DeviceActive {
			continue
		}
		if _, taken := busy[d.ID]; taken {
			continue
		}
		out = append(out, d)
	}
	return out
}

// FindOverheating returns devices whose last recorded temperature
// exceeds the threshold.
func (r *Registry) FindOverheating(thresholdC float64) []model.GPUDevice {
	var out []model.GPUDevice
	for _, d := range r.store.Devices.Values() {
		if d.TemperatureC != nil && *d.TemperatureC > thresholdC {
			out = append(out, d)
		}
	}
	return out
}

// UpsertNode inserts or updates a node record and recomputes its GPU counts.
func (r *Registry) UpsertNode(node model.GPUNode) {
	node.UpdatedAt = r.clock.Now().UnixMilli()
	r.store.Nodes.Set(node.Name, node)
	r.RecomputeNodeCounts(node.Name)
}

// Statistics summarizes the device inventory.
func (r *Registry) Statistics() model.DeviceStatistics {
	stats := model.DeviceStatistics{
		DevicesByNode:  make(map[string]int),
		DevicesByModel: make(map[string]int),
		Timestamp:      r.clock.Now().UnixMilli(),
	}
	for _, d := range r.store.Devices.Values() {
		stats.TotalDevices++
		switch d.Status {
		case model.DeviceActive:
			stats.ActiveDevices++
		case model.DevicePartitioned:
			stats.PartitionedDevices++
		}
		stats.DevicesByNode[d.NodeName]++
		stats.DevicesByModel[d.ModelID]++
	}
	return stats
}

// RecomputeNodeCounts refreshes TotalGPUs and AvailableGPUs on a node record
// from the device inventory. No-op if the node record is gone. Callers must
// not rely on it taking device locks; it touches only the node store.
func (r *Registry) RecomputeNodeCounts(nodeName string) {
	node, ok := r.store.Nodes.Get(nodeName)
	if !ok {
		return
	}
	total, avail := 0, 0
	for _, d := range r.store.Devices.Values() {
		if d.NodeName != nodeName {
			continue
		}
		total++
		if d.Status == model.DeviceActive {
			avail++
		}
	}
	node.TotalGPUs = total
	node.AvailableGPUs = avail
	node.UpdatedAt = r.clock.Now().UnixMilli()
	r.store.Nodes.Set(nodeName, node)
}
