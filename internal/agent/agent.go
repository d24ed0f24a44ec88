package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/duck3244/k8s-gpu-management/internal/allocation"
	"github.com/duck3244/k8s-gpu-management/internal/collector"
	"github.com/duck3244/k8s-gpu-management/internal/config"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/observability"
	"github.com/duck3244/k8s-gpu-management/internal/partition"
	"github.com/duck3244/k8s-gpu-management/internal/snapshot"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/internal/transport"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// Deps bundles the subsystems the agent orchestrates.
type Deps struct {
	Config         *config.Config
	Collectors     *collector.Registry
	Builder        *snapshot.SnapshotBuilder
	Transport      *transport.Client
	StateMachine   *StateMachine
	ErrorCollector *errors.ErrorCollector
	Metrics        *observability.Metrics
	Engine         *allocation.Engine
	Partitions     *partition.Manager
	Store          *store.Store
	Usage          *store.UsageStore
}

// Agent is the main orchestrator. It runs the snapshot-send loop and the
// periodic maintenance sweeps (allocation expiry, unused partition cleanup,
// usage sample pruning).
type Agent struct {
	config         *config.Config
	collectors     *collector.Registry
	builder        *snapshot.SnapshotBuilder
	transport      *transport.Client
	stateMachine   *StateMachine
	errorCollector *errors.ErrorCollector
	metrics        *observability.Metrics
	engine         *allocation.Engine
	partitions     *partition.Manager
	store          *store.Store
	usage          *store.UsageStore

	latestSnapshot atomic.Pointer[model.FleetSnapshot]
	ready          atomic.Bool
	startedAt      time.Time

	snapshotsSent   atomic.Uint64
	snapshotsFailed atomic.Uint64
	lastSendMs      atomic.Int64
	lastBuildMs     atomic.Int64

	lastExpirySweepAt  atomic.Int64
	expiredLastSweep   atomic.Int64
	reclaimedLastSweep atomic.Int64
}

// NewAgent creates an Agent from its dependencies.
func NewAgent(deps Deps) *Agent {
	return &Agent{
		config:         deps.Config,
		collectors:     deps.Collectors,
		builder:        deps.Builder,
		transport:      deps.Transport,
		stateMachine:   deps.StateMachine,
		errorCollector: deps.ErrorCollector,
		metrics:        deps.Metrics,
		engine:         deps.Engine,
		partitions:     deps.Partitions,
		store:          deps.Store,
		usage:          deps.Usage,
		startedAt:      time.Now(),
	}
}

// IsReady reports whether the agent has completed initial sync and is
// actively collecting data. Implements health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load()
}

// LatestSnapshot returns the most recent FleetSnapshot, or nil if none
// has been built yet. Implements health.SnapshotProvider.
func (a *Agent) LatestSnapshot() interface{} {
	snap := a.latestSnapshot.Load()
	if snap == nil {
		return nil
	}
	return snap
}

// Run executes the agent lifecycle: start collectors, wait for sync,
// then enter the snapshot and sweep loop until the context is canceled or
// the state machine transitions to a terminal state.
func (a *Agent) Run(ctx context.Context) error {
	// 1. Start all collectors.
	if err := a.collectors.StartAll(ctx); err != nil {
		var partial *collector.PartialStartError
		if stderrors.As(err, &partial) {
			slog.Warn("some collectors failed to start, continuing with partial data",
				"failed", partial.Failed, "total", partial.Total)
		} else {
			return fmt.Errorf("failed to start collectors: %w", err)
		}
	}
	defer a.collectors.StopAll()

	// 2. Wait for initial sync (with configurable timeout).
	syncTimeout := a.config.InformerSyncTimeout
	if syncTimeout == 0 {
		syncTimeout = 5 * time.Minute
	}
	slog.Info("waiting for informer sync", "timeout", syncTimeout)

	syncCtx, syncCancel := context.WithTimeout(ctx, syncTimeout)
	defer syncCancel()
	syncStart := time.Now()
	if err := a.collectors.WaitForSync(syncCtx); err != nil {
		a.errorCollector.Report(errors.AgentError{
			Code:      errors.ErrInformerSyncTimeout,
			Message:   fmt.Sprintf("informer sync timed out after %s: %v", syncTimeout, err),
			Component: "agent",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		})
		slog.Warn("informer sync incomplete, continuing with partial data",
			"error", err,
			"timeout", syncTimeout,
			"elapsed", time.Since(syncStart).Round(time.Millisecond),
		)
		// Partial data is still worth reporting.
	} else {
		slog.Info("informer sync completed",
			"elapsed", time.Since(syncStart).Round(time.Millisecond),
		)
	}

	// 2b. Log post-sync store diagnostics so operators can verify counts.
	a.logStoreCounts()

	// 3. Transition to Running.
	a.stateMachine.TransitionTo(StateRunning, "informers synced")
	a.setStateMetric(StateRunning)
	a.ready.Store(true)
	slog.Info("agent is ready", "state", StateRunning)

	// 4. Main loop: snapshots plus the three maintenance sweeps.
	snapshotTicker := time.NewTicker(a.config.SnapshotInterval)
	defer snapshotTicker.Stop()
	expiryTicker := time.NewTicker(a.config.ExpirySweepInterval)
	defer expiryTicker.Stop()
	cleanupTicker := time.NewTicker(a.config.CleanupSweepInterval)
	defer cleanupTicker.Stop()
	pruneTicker := time.NewTicker(a.config.UsagePruneInterval)
	defer pruneTicker.Stop()

	// Do first snapshot immediately.
	a.doSnapshot(ctx, snapshotTicker)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-expiryTicker.C:
			a.runExpirySweep()
			continue
		case <-cleanupTicker.C:
			a.runCleanupSweep()
			continue
		case <-pruneTicker.C:
			a.runUsagePrune()
			continue

		case <-snapshotTicker.C:
		}

		state := a.stateMachine.State()
		switch state {
		case StateRunning:
			a.doSnapshot(ctx, snapshotTicker)
		case StateBackoff:
			if a.stateMachine.IsBackoffExpired() {
				a.stateMachine.TransitionTo(StateRunning, "backoff expired")
				a.setStateMetric(StateRunning)
				a.doSnapshot(ctx, snapshotTicker)
			} else {
				slog.Debug("in backoff, skipping snapshot",
					"remaining", a.stateMachine.BackoffRemaining())
			}
		case StateStopped, StateExiting:
			slog.Info("agent exiting", "state", state,
				"reason", a.stateMachine.StateReason())
			return nil
		}

		if s := a.stateMachine.State(); s == StateStopped || s == StateExiting {
			slog.Info("agent exiting", "state", s,
				"reason", a.stateMachine.StateReason())
			return nil
		}
	}
}

func (a *Agent) logStoreCounts() {
	counts := a.store.ItemCounts()
	slog.Info("post-sync store counts",
		"nodes", counts["nodes"],
		"devices", counts["devices"],
		"instances", counts["instances"],
		"allocations", counts["allocations"],
		"pods", counts["pods"],
	)
}

// runExpirySweep expires allocations whose planned release time has passed.
func (a *Agent) runExpirySweep() {
	start := time.Now()
	expired := a.engine.AutoExpire()

	a.lastExpirySweepAt.Store(time.Now().UnixMilli())
	a.expiredLastSweep.Store(int64(expired))

	if a.metrics != nil {
		a.metrics.SweepDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
		if expired > 0 {
			a.metrics.ExpiredTotal.Add(float64(expired))
			a.metrics.AllocationsTotal.WithLabelValues("expired").Add(float64(expired))
		}
	}
	if expired > 0 {
		slog.Info("expiry sweep finished", "expired", expired,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}

// runCleanupSweep reclaims partition instances idle past the configured age.
func (a *Agent) runCleanupSweep() {
	start := time.Now()
	olderThan := time.Now().Add(-a.config.UnusedPartitionAge).UnixMilli()
	removed := a.partitions.CleanupUnused(olderThan)

	a.reclaimedLastSweep.Store(int64(len(removed)))

	if a.metrics != nil {
		a.metrics.SweepDuration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
		if len(removed) > 0 {
			a.metrics.ReclaimedTotal.Add(float64(len(removed)))
		}
	}
	if len(removed) > 0 {
		slog.Info("cleanup sweep reclaimed partitions", "instances", removed,
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}

// runUsagePrune drops usage samples older than the retention window.
func (a *Agent) runUsagePrune() {
	start := time.Now()
	cutoff := time.Now().Add(-a.config.UsageRetention).UnixMilli()
	pruned := a.usage.Prune(cutoff)

	if a.metrics != nil {
		a.metrics.SweepDuration.WithLabelValues("usage_prune").Observe(time.Since(start).Seconds())
	}
	if pruned > 0 {
		slog.Debug("usage prune finished", "samples", pruned,
			"retained", a.usage.SampleCount())
	}
}

func (a *Agent) doSnapshot(ctx context.Context, ticker *time.Ticker) {
	buildStart := time.Now()
	snap := a.builder.Build(ctx)
	a.lastBuildMs.Store(time.Since(buildStart).Milliseconds())

	a.fillHealth(snap)
	a.latestSnapshot.Store(snap)
	a.updateGauges(snap)

	sendStart := time.Now()
	resp, err := a.transport.Send(ctx, snap)
	a.lastSendMs.Store(time.Since(sendStart).Milliseconds())

	if err != nil {
		a.snapshotsFailed.Add(1)
		slog.Error("snapshot send failed", "error", err)
		return
	}
	a.snapshotsSent.Add(1)

	state := a.stateMachine.State()
	if state == StateStopped || state == StateExiting {
		return
	}

	a.stateMachine.HandleHTTPStatus(200, 0)
	a.setStateMetric(a.stateMachine.State())

	if resp != nil {
		a.applyDirectives(resp.Directives, ticker)
		slog.Info("snapshot sent",
			"snapshot_id", snap.SnapshotID,
			"devices", snap.Summary.DeviceCount,
			"active_allocations", snap.Summary.ActiveAllocations,
		)
	}
}

// applyDirectives adjusts agent behavior per the backend's response.
func (a *Agent) applyDirectives(d model.Directives, ticker *time.Ticker) {
	a.builder.SetIncludeCostAnalysis(d.IncludeCostAnalysis)

	if d.NextSnapshotInSeconds > 0 {
		next := time.Duration(d.NextSnapshotInSeconds) * time.Second
		if next != a.config.SnapshotInterval {
			slog.Info("backend adjusted snapshot interval",
				"old", a.config.SnapshotInterval, "new", next)
			a.config.SnapshotInterval = next
			ticker.Reset(next)
		}
	}
}

// fillHealth completes the health block the builder left for the agent.
func (a *Agent) fillHealth(snap *model.FleetSnapshot) {
	sent := a.snapshotsSent.Load()
	failed := a.snapshotsFailed.Load()

	snap.Health.SnapshotsSentTotal = sent
	snap.Health.SnapshotsFailedTotal = failed
	snap.Health.SnapshotsTotalCount = sent + failed

	snap.Health.State = string(a.stateMachine.State())
	snap.Health.StateReason = a.stateMachine.StateReason()

	snap.Health.LastBuildDurationMs = a.lastBuildMs.Load()
	snap.Health.LastSendDurationMs = a.lastSendMs.Load()

	snap.Health.InformersSynced = a.ready.Load()
	snap.Health.InformersTotal = len(a.collectors.Collectors())
	snap.Health.InformersHealthy = snap.Health.InformersTotal

	snap.Health.LastExpirySweepAt = a.lastExpirySweepAt.Load()
	snap.Health.ExpiredLastSweep = int(a.expiredLastSweep.Load())
	snap.Health.ReclaimedLastSweep = int(a.reclaimedLastSweep.Load())

	activeErrors := a.errorCollector.GetActiveErrors()
	snap.Health.ActiveErrorsCount = len(activeErrors)
	snap.Health.ErrorCodes = a.errorCollector.GetActiveErrorCodes()

	snap.Health.UptimeSeconds = int64(time.Since(a.startedAt).Seconds())
	snap.Health.StartedAt = a.startedAt.UnixMilli()
}

// updateGauges refreshes the prometheus gauges from the freshly built snapshot.
func (a *Agent) updateGauges(snap *model.FleetSnapshot) {
	if a.metrics == nil {
		return
	}

	for resource, count := range a.store.ItemCounts() {
		a.metrics.StoreItems.WithLabelValues(resource).Set(float64(count))
	}

	a.metrics.ActiveAllocations.Set(float64(snap.Summary.ActiveAllocations))
	a.metrics.OverheatingDevices.Set(float64(len(snap.Overheating)))

	a.metrics.Devices.WithLabelValues(string(model.DeviceActive)).Set(float64(snap.Summary.ActiveDevices))
	a.metrics.Devices.WithLabelValues(string(model.DevicePartitioned)).Set(float64(snap.Summary.PartitionedDevices))
	a.metrics.Devices.WithLabelValues(string(model.DeviceFailed)).Set(float64(snap.Summary.FailedDevices))
	a.metrics.Devices.WithLabelValues(string(model.DeviceMaintenance)).Set(float64(snap.Summary.MaintenanceDevices))

	a.metrics.PartitionInstances.WithLabelValues("allocated").Set(float64(snap.Summary.AllocatedPartitions))
	a.metrics.PartitionInstances.WithLabelValues("free").Set(float64(snap.Summary.FreePartitions))
}

// setStateMetric marks the current state gauge at 1 and all others at 0.
func (a *Agent) setStateMetric(current AgentState) {
	if a.metrics == nil {
		return
	}
	for _, s := range []AgentState{StateStarting, StateRunning, StateBackoff, StateStopped, StateExiting} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		a.metrics.AgentState.WithLabelValues(string(s)).Set(v)
	}
}
