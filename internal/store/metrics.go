package store

import (
	"sync"

	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// MetricsStore holds metrics-server data separately from the main fleet store.
type MetricsStore struct {
	NodeMetrics *TypedStore[model.NodeMetrics]
	PodMetrics  *TypedStore[model.PodMetrics]
}

// NewMetricsStore creates a MetricsStore with both typed stores initialized.
func NewMetricsStore() *MetricsStore {
	return &MetricsStore{
		NodeMetrics: NewTypedStore[model.NodeMetrics](),
		PodMetrics:  NewTypedStore[model.PodMetrics](),
	}
}

// UsageStore keeps time-ordered GPU usage samples per device. Samples are
// appended by the GPU metrics collector and read by the cost analyzer and
// snapshot builder. Old samples are dropped by Prune.
type UsageStore struct {
	mu      sync.RWMutex
	samples map[string][]model.GPUUsageSample // keyed by device ID
}

// NewUsageStore creates an empty UsageStore.
func NewUsageStore() *UsageStore {
	return &UsageStore{samples: make(map[string][]model.GPUUsageSample)}
}

// Append records a sample for its device. Samples are assumed to arrive in
// timestamp order per device.
func (u *UsageStore) Append(sample model.GPUUsageSample) {
	u.mu.Lock()
	u.samples[sample.DeviceID] = append(u.samples[sample.DeviceID], sample)
	u.mu.Unlock()
}

// Latest returns the most recent sample for a device.
func (u *UsageStore) Latest(deviceID string) (model.GPUUsageSample, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	s := u.samples[deviceID]
	if len(s) == 0 {
		return model.GPUUsageSample{}, false
	}
	return s[len(s)-1], true
}

// Range returns samples for a device with Timestamp in [from, to], oldest first.
func (u *UsageStore) Range(deviceID string, from, to int64) []model.GPUUsageSample {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []model.GPUUsageSample
	for _, s := range u.samples[deviceID] {
		if s.Timestamp >= from && s.Timestamp <= to {
			out = append(out, s)
		}
	}
	return out
}

// Averages computes aggregate utilization for a device over [from, to].
// Samples missing a field are excluded from that field's average.
func (u *UsageStore) Averages(deviceID string, from, to int64) model.GPUUsageAverages {
	samples := u.Range(deviceID, from, to)
	avg := model.GPUUsageAverages{DeviceID: deviceID, Samples: len(samples)}
	if len(samples) == 0 {
		return avg
	}

	var utilSum, memSum, tempSum, powerSum float64
	var utilN, memN, tempN, powerN int
	for _, s := range samples {
		if s.UtilizationPercent != nil {
			utilSum += *s.UtilizationPercent
			utilN++
		}
		if s.MemoryUtilPercent != nil {
			memSum += *s.MemoryUtilPercent
			memN++
		}
		if s.TemperatureC != nil {
			tempSum += *s.TemperatureC
			tempN++
			if *s.TemperatureC > avg.MaxTemperatureC {
				avg.MaxTemperatureC = *s.TemperatureC
			}
		}
		if s.PowerW != nil {
			powerSum += *s.PowerW
			powerN++
		}
	}
	if utilN > 0 {
		avg.AvgUtilizationPct = utilSum / float64(utilN)
	}
	if memN > 0 {
		avg.AvgMemoryUtilPct = memSum / float64(memN)
	}
	if tempN > 0 {
		avg.AvgTemperatureC = tempSum / float64(tempN)
	}
	if powerN > 0 {
		avg.AvgPowerW = powerSum / float64(powerN)
	}
	return avg
}

// Prune drops samples older than cutoff (UnixMilli) and removes devices
// left with no samples. Returns the number of samples dropped.
func (u *UsageStore) Prune(cutoff int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	dropped := 0
	for id, s := range u.samples {
		i := 0
		for i < len(s) && s[i].Timestamp < cutoff {
			i++
		}
		if i == 0 {
			continue
		}
		dropped += i
		if i == len(s) {
			delete(u.samples, id)
			continue
		}
		u.samples[id] = append([]model.GPUUsageSample(nil), s[i:]...)
	}
	return dropped
}

// SampleCount returns the total number of retained samples.
func (u *UsageStore) SampleCount() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	n := 0
	for _, s := range u.samples {
		n += len(s)
	}
	return n
}
