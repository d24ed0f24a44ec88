package gpu

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Recorder routes scraped DCGM readings into the device registry and the
// usage-metrics store. GPUs are matched to inventory records by hardware
// UUID; readings for unregistered hardware are dropped.
type Recorder struct {
	registry *registry.Registry
	usage    *store.UsageStore
	logger   *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(reg *registry.Registry, usage *store.UsageStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		registry: reg,
		usage:    usage,
		logger:   logger.With("component", "gpu-recorder"),
	}
}

// Record ingests one poll's worth of device metrics. Temperature and power
// land on the device record; utilization samples are appended to the
// usage-metrics store for range/average queries and cost analysis.
func (r *Recorder) Record(metrics []GPUDeviceMetrics) {
	matched := 0
	for i := range metrics {
		m := &metrics[i]
		dev, ok := r.registry.DeviceByHardwareID(m.UUID)
		if !ok {
			continue
		}
		matched++

		r.registry.RecordTelemetry(dev.ID, m.Temperature, m.PowerUsage)

		sample := model.GPUUsageSample{
			DeviceID:           dev.ID,
			InstanceID:         sampleInstanceID(dev.ID, m.GPUInstanceID),
			UtilizationPercent: m.GPUUtilization,
			MemoryUsedBytes:    m.MemoryUsedBytes,
			TemperatureC:       m.Temperature,
			PowerW:             m.PowerUsage,
			Timestamp:          m.Timestamp,
		}
		if m.MemoryUsedBytes != nil && m.MemoryTotalBytes != nil && *m.MemoryTotalBytes > 0 {
			pct := float64(*m.MemoryUsedBytes) / float64(*m.MemoryTotalBytes) * 100
			sample.MemoryUtilPercent = &pct
		}
		r.usage.Append(sample)
	}

	if len(metrics) > 0 {
		r.logger.Debug("telemetry recorded", "scraped", len(metrics), "matched", matched)
	}
}

// sampleInstanceID maps a DCGM GPU_I_ID label onto the inventory's partition
// instance id scheme (<device>-MIG-<index>). Empty when the sample covers
// the whole device.
func sampleInstanceID(deviceID, giID string) string {
	if giID == "" {
		return ""
	}
	idx, err := strconv.Atoi(giID)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-MIG-%02d", deviceID, idx)
}
