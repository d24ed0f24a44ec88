package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duck3244/k8s-gpu-management/internal/allocation"
	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/collector"
	"github.com/duck3244/k8s-gpu-management/internal/config"
	"github.com/duck3244/k8s-gpu-management/internal/cost"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/observability"
	"github.com/duck3244/k8s-gpu-management/internal/partition"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/snapshot"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/internal/transport"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

// --- mock collector ---

type stubCollector struct {
	name string
}

func (s *stubCollector) Name() string                        { return s.name }
func (s *stubCollector) Start(_ context.Context) error       { return nil }
func (s *stubCollector) WaitForSync(_ context.Context) error { return nil }
func (s *stubCollector) Stop()                               {}

// --- test helpers ---

// newTestBackend creates an httptest server for the fleet ingest endpoint.
// The requestCount is incremented on each request.
func newTestBackend(t *testing.T, requestCount *atomic.Int32, statusCode int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		switch statusCode {
		case http.StatusOK:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(model.SnapshotResponse{
				Success: true,
				Directives: model.Directives{
					IncludeCostAnalysis: true,
				},
			})
		case http.StatusUnauthorized:
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(model.SnapshotErrorResponse{
				Success: false,
				Error:   "authentication failed",
			})
		default:
			w.WriteHeader(statusCode)
			json.NewEncoder(w).Encode(model.SnapshotErrorResponse{
				Success: false,
				Error:   "error",
			})
		}
	}))
}

func newAgentTestConfig(backendURL string) *config.Config {
	return &config.Config{
		APIKey:              "test-key",
		ClusterID:           "test-cluster",
		ClusterName:         "test",
		BackendURL:          backendURL,
		SnapshotInterval:    50 * time.Millisecond, // fast for tests
		InformerSyncTimeout: 5 * time.Second,
		CompressionLevel:    1,
		MaxRetries:          0,
		RequestTimeout:      5 * time.Second,
		HealthPort:          0,
		AgentVersion:        "test",

		ExpirySweepInterval:  time.Hour,
		CleanupSweepInterval: time.Hour,
		UsagePruneInterval:   time.Hour,
		UsageRetention:       24 * time.Hour,
		UnusedPartitionAge:   time.Hour,
		OverheatThresholdC:   85,
		CostAnalysisDays:     30,
	}
}

// agentFixture wires the full subsystem stack behind an Agent, so tests can
// drive allocations and partitions directly while the agent loop runs.
type agentFixture struct {
	agent    *Agent
	config   *config.Config
	store    *store.Store
	registry *registry.Registry
	manager  *partition.Manager
	engine   *allocation.Engine
	usage    *store.UsageStore
	metrics  *observability.Metrics
}

func newAgentFixture(t *testing.T, backendURL string) *agentFixture {
	t.Helper()

	cfg := newAgentTestConfig(backendURL)
	clk := errors.RealClock{}
	logger := slog.Default()
	errCollector := errors.NewErrorCollector(clk)
	metrics := observability.NewMetrics()
	sm := NewStateMachine(clk)

	st := store.NewStore()
	ms := store.NewMetricsStore()
	usage := store.NewUsageStore()
	cat := catalog.New(st.Models, st.Profiles)
	require.NoError(t, cat.Seed(catalog.DefaultModels(), catalog.DefaultProfiles()))
	reg := registry.New(st, cat, clk, logger)
	mgr := partition.New(st, cat, reg, clk, logger)
	est := cost.New(st, cat, clk, cost.Config{
		FallbackRate:      decimal.NewFromInt(1),
		Currency:          "USD",
		PartitionDiscount: decimal.NewFromFloat(0.7),
	}, logger)
	eng := allocation.New(st, cat, est, clk, logger)
	mgr.SetFinalizer(eng)

	builder := snapshot.NewSnapshotBuilder(st, ms, usage, cat, reg, est, cfg, metrics, nil)
	tc := transport.NewClient(cfg, metrics, errCollector)
	colReg := collector.NewRegistry()
	colReg.Register(&stubCollector{name: "test-stub"})

	ag := NewAgent(Deps{
		Config:         cfg,
		Collectors:     colReg,
		Builder:        builder,
		Transport:      tc,
		StateMachine:   sm,
		ErrorCollector: errCollector,
		Metrics:        metrics,
		Engine:         eng,
		Partitions:     mgr,
		Store:          st,
		Usage:          usage,
	})
	return &agentFixture{
		agent:    ag,
		config:   cfg,
		store:    st,
		registry: reg,
		manager:  mgr,
		engine:   eng,
		usage:    usage,
		metrics:  metrics,
	}
}

func TestAgent_IsReady_InitiallyFalse(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	assert.False(t, f.agent.IsReady(), "agent should not be ready before Run")
}

func TestAgent_LatestSnapshot_InitiallyNil(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	assert.Nil(t, f.agent.LatestSnapshot(), "snapshot should be nil before Run")
}

func TestAgent_Run_StartsAndSendsSnapshots(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := f.agent.Run(ctx)
	// Should exit with context deadline exceeded.
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Should have become ready.
	assert.True(t, f.agent.IsReady(), "agent should be ready after sync")

	// Should have sent at least one snapshot (the immediate one).
	assert.Greater(t, reqCount.Load(), int32(0), "should have sent at least one snapshot")

	// Latest snapshot should be non-nil.
	assert.NotNil(t, f.agent.LatestSnapshot(), "latest snapshot should be set")
}

func TestAgent_Run_ContextCancellation_CleanShutdown(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// Let it run briefly, then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}

func TestAgent_Run_ReadyAfterSync(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	// Not ready before Run.
	assert.False(t, f.agent.IsReady())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// Wait for agent to become ready.
	require.Eventually(t, func() bool {
		return f.agent.IsReady()
	}, 2*time.Second, 10*time.Millisecond, "agent should become ready")

	cancel()
	<-done
}

func TestAgent_Run_LatestSnapshotSetAfterFirstBuild(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	assert.Nil(t, f.agent.LatestSnapshot())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// Wait for snapshot to be set.
	require.Eventually(t, func() bool {
		return f.agent.LatestSnapshot() != nil
	}, 2*time.Second, 10*time.Millisecond, "latest snapshot should be set")

	snap, ok := f.agent.LatestSnapshot().(*model.FleetSnapshot)
	require.True(t, ok, "should be a *model.FleetSnapshot")
	assert.Equal(t, "test-cluster", snap.ClusterID)
	assert.Equal(t, string(StateRunning), snap.Health.State)

	cancel()
	<-done
}

func TestAgent_Run_SendFailure_CountsFailed(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusUnauthorized)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// The 401 causes a non-retryable transport error. The agent keeps
	// trying on each tick. Let it run briefly.
	select {
	case err := <-done:
		_ = err
	case <-time.After(500 * time.Millisecond):
		cancel()
		<-done
	}

	assert.Greater(t, reqCount.Load(), int32(0))
	assert.Greater(t, f.agent.snapshotsFailed.Load(), uint64(0))
	assert.Zero(t, f.agent.snapshotsSent.Load())
}

func TestAgent_Run_StateMachine_DirectTransition_Stopped(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// Wait for agent to become ready, then force state to Stopped.
	require.Eventually(t, func() bool {
		return f.agent.IsReady()
	}, 2*time.Second, 10*time.Millisecond)

	f.agent.stateMachine.TransitionTo(StateStopped, "test forced stop")

	select {
	case err := <-done:
		assert.NoError(t, err, "Run should return nil when StateStopped")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after StateStopped transition")
	}
}

func TestAgent_Run_StateMachine_Exiting_ExitsLoop(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.agent.Run(ctx)
	}()

	// Wait ready, then transition to Exiting.
	require.Eventually(t, func() bool {
		return f.agent.IsReady()
	}, 2*time.Second, 10*time.Millisecond)

	f.agent.stateMachine.TransitionTo(StateExiting, "deprecated")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after StateExiting transition")
	}
}

func TestAgent_Run_EmptyRegistry_NoCollectors(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)
	// Swap in an empty collector registry.
	f.agent.collectors = collector.NewRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := f.agent.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.agent.IsReady())
}

// --- sweeps ---

func TestAgent_ExpirySweep_ExpiresOverdueAllocations(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)
	f.registry.UpsertNode(model.GPUNode{Name: "gpu-node-1", Ready: true})
	_, err := f.registry.Register(model.DeviceRegistration{
		NodeName: "gpu-node-1", ModelID: "A100-80GB", SlotIndex: 0, HardwareID: "GPU-UUID-0",
	})
	require.NoError(t, err)

	// Allocation planned to release 50ms from now.
	release := time.Now().Add(50 * time.Millisecond).UnixMilli()
	alloc, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "train-0", PlannedReleaseAt: &release,
	})
	require.NoError(t, err)

	// Before the deadline the sweep is a no-op.
	f.agent.runExpirySweep()
	assert.Zero(t, f.agent.expiredLastSweep.Load())

	time.Sleep(60 * time.Millisecond)
	f.agent.runExpirySweep()

	assert.Equal(t, int64(1), f.agent.expiredLastSweep.Load())
	assert.NotZero(t, f.agent.lastExpirySweepAt.Load())

	got, ok := f.store.Allocations.Get(alloc.ID)
	require.True(t, ok)
	assert.Equal(t, model.AllocationExpired, got.Status)

	var pb dto.Metric
	require.NoError(t, f.metrics.ExpiredTotal.Write(&pb))
	assert.Equal(t, float64(1), pb.GetCounter().GetValue())
}

func TestAgent_CleanupSweep_ReclaimsStaleInstances(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)
	f.registry.UpsertNode(model.GPUNode{Name: "gpu-node-1", Ready: true})
	dev, err := f.registry.Register(model.DeviceRegistration{
		NodeName: "gpu-node-1", ModelID: "A100-80GB", SlotIndex: 0, HardwareID: "GPU-UUID-0",
	})
	require.NoError(t, err)
	// 7g.80gb yields a single instance per device.
	created, err := f.manager.CreatePartitions(dev.ID, []string{"A100-80-7g.80gb"})
	require.NoError(t, err)
	require.Len(t, created, 1)

	// Backdate the instance past the unused-partition age.
	inst, ok := f.store.Instances.Get(created[0].ID)
	require.True(t, ok)
	inst.CreatedAt = time.Now().Add(-2 * f.config.UnusedPartitionAge).UnixMilli()
	f.store.Instances.Set(inst.ID, inst)

	f.agent.runCleanupSweep()

	assert.Equal(t, int64(1), f.agent.reclaimedLastSweep.Load())
	got, ok := f.store.Instances.Get(created[0].ID)
	require.True(t, ok)
	assert.Equal(t, model.InstanceInactive, got.Status)

	var pb dto.Metric
	require.NoError(t, f.metrics.ReclaimedTotal.Write(&pb))
	assert.Equal(t, float64(1), pb.GetCounter().GetValue())
}

func TestAgent_UsagePrune_DropsOldSamples(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)

	old := time.Now().Add(-2 * f.config.UsageRetention).UnixMilli()
	fresh := time.Now().UnixMilli()
	f.usage.Append(model.GPUUsageSample{DeviceID: "n1-GPU-00", Timestamp: old})
	f.usage.Append(model.GPUUsageSample{DeviceID: "n1-GPU-00", Timestamp: fresh})

	f.agent.runUsagePrune()

	assert.Equal(t, 1, f.usage.SampleCount(), "only the fresh sample should remain")
}

func TestAgent_FillHealth_CarriesSweepResults(t *testing.T) {
	var reqCount atomic.Int32
	srv := newTestBackend(t, &reqCount, http.StatusOK)
	defer srv.Close()

	f := newAgentFixture(t, srv.URL)
	f.agent.lastExpirySweepAt.Store(12345)
	f.agent.expiredLastSweep.Store(3)
	f.agent.reclaimedLastSweep.Store(2)
	f.agent.snapshotsSent.Add(5)
	f.agent.snapshotsFailed.Add(1)

	snap := &model.FleetSnapshot{}
	f.agent.fillHealth(snap)

	assert.Equal(t, int64(12345), snap.Health.LastExpirySweepAt)
	assert.Equal(t, 3, snap.Health.ExpiredLastSweep)
	assert.Equal(t, 2, snap.Health.ReclaimedLastSweep)
	assert.Equal(t, uint64(5), snap.Health.SnapshotsSentTotal)
	assert.Equal(t, uint64(1), snap.Health.SnapshotsFailedTotal)
	assert.Equal(t, uint64(6), snap.Health.SnapshotsTotalCount)
	assert.Equal(t, string(StateStarting), snap.Health.State)
	assert.GreaterOrEqual(t, snap.Health.UptimeSeconds, int64(0))
}
