package agent

import (
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// MemStatsProvider abstracts runtime.MemStats reads so tests can feed
// synthetic heap numbers.
type MemStatsProvider interface {
	ReadMemStats(m *runtime.MemStats)
}

type runtimeMemStatsProvider struct{}

func (runtimeMemStatsProvider) ReadMemStats(m *runtime.MemStats) {
	runtime.ReadMemStats(m)
}

// MemoryPressureMonitor watches process memory against GOMEMLIMIT and fires
// a callback when usage crosses the threshold fraction. The agent holds the
// whole fleet in memory, so sustained pressure means the snapshot working
// set is outgrowing the container limit.
type MemoryPressureMonitor struct {
	threshold float64 // fraction of GOMEMLIMIT, e.g. 0.8
	callback  func()
	interval  time.Duration
	provider  MemStatsProvider
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewMemoryPressureMonitor creates a monitor. A nil provider means the real
// runtime.ReadMemStats.
func NewMemoryPressureMonitor(threshold float64, callback func(), interval time.Duration, provider MemStatsProvider) *MemoryPressureMonitor {
	if provider == nil {
		provider = runtimeMemStatsProvider{}
	}
	return &MemoryPressureMonitor{
		threshold: threshold,
		callback:  callback,
		interval:  interval,
		provider:  provider,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (m *MemoryPressureMonitor) Start() {
	go m.run()
}

func (m *MemoryPressureMonitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.underPressure() {
				slog.Warn("memory pressure detected, triggering callback")
				m.callback()
			}
		}
	}
}

// underPressure compares retained memory (Sys minus HeapReleased) against
// the threshold fraction of GOMEMLIMIT. Without a limit set it always
// reports false.
func (m *MemoryPressureMonitor) underPressure() bool {
	limit := debug.SetMemoryLimit(-1) // reads the limit without changing it
	if limit <= 0 {
		return false
	}

	var stats runtime.MemStats
	m.provider.ReadMemStats(&stats)

	usage := stats.Sys - stats.HeapReleased
	return float64(usage)/float64(limit) > m.threshold
}

// Stop halts polling. Safe to call more than once.
func (m *MemoryPressureMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
