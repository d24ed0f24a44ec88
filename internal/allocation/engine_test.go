package allocation

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/cost"
	"github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/partition"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"github.com/duck3244/k8s-gpu-management/pkg/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fixture struct {
	store     *store.Store
	registry  *registry.Registry
	partition *partition.Manager
	engine    *Engine
	clock     *fakeClock
}

func testCostConfig() cost.Config {
	return cost.Config{
		Rates: map[string]decimal.Decimal{
			"A100-80GB": decimal.NewFromInt(3),
			"T4-16GB":   decimal.NewFromFloat(0.5),
		},
		FallbackRate:        decimal.NewFromInt(1),
		Currency:            "USD",
		PartitionDiscount:   decimal.NewFromFloat(0.7),
		RightsizingMemoryGB: 20,
		StaleAfterDays:      7,
		IdleDeviceSurplus:   2,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewStore()
	cat := catalog.New(st.Models, st.Profiles)
	require.NoError(t, cat.Seed(catalog.DefaultModels(), catalog.DefaultProfiles()))
	clk := newFakeClock()
	logger := slog.Default()
	reg := registry.New(st, cat, clk, logger)
	reg.UpsertNode(model.GPUNode{Name: "gpu-node-1", Ready: true})
	mgr := partition.New(st, cat, reg, clk, logger)
	est := cost.New(st, cat, clk, testCostConfig(), logger)
	eng := New(st, cat, est, clk, logger)
	mgr.SetFinalizer(eng)
	return &fixture{store: st, registry: reg, partition: mgr, engine: eng, clock: clk}
}

func (f *fixture) registerDevice(t *testing.T, slot int, modelID string) model.GPUDevice {
	t.Helper()
	dev, err := f.registry.Register(model.DeviceRegistration{
		NodeName:   "gpu-node-1",
		ModelID:    modelID,
		SlotIndex:  slot,
		HardwareID: fmt.Sprintf("GPU-%s-%02d", modelID, slot),
	})
	require.NoError(t, err)
	return dev
}

func TestEngine_AllocateFullDevice_FirstFit(t *testing.T) {
	f := newFixture(t)
	d0 := f.registerDevice(t, 0, "A100-80GB")
	d1 := f.registerDevice(t, 1, "A100-80GB")

	a0, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "train-0"})
	require.NoError(t, err)
	assert.Equal(t, d0.ID, a0.ResourceID)
	assert.Equal(t, model.KindFullDevice, a0.ResourceKind)
	assert.Equal(t, 80, a0.GrantedMemoryGB)
	assert.True(t, a0.HourlyRate.Equal(decimal.NewFromInt(3)))

	// Registration order: second request takes the second device.
	a1, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "train-1"})
	require.NoError(t, err)
	assert.Equal(t, d1.ID, a1.ResourceID)

	_, err = f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "train-2"})
	assert.True(t, errors.IsResourceExhausted(err))
}

func TestEngine_Allocate_Constraints(t *testing.T) {
	f := newFixture(t)
	f.registerDevice(t, 0, "T4-16GB")
	a100 := f.registerDevice(t, 1, "A100-80GB")

	// Memory constraint skips the 16 GB device.
	a, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "big", RequiredMemoryGB: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, a100.ID, a.ResourceID)
	_, err = f.engine.Release(a.ID)
	require.NoError(t, err)

	// Preferred model constraint.
	a, err = f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "picky", PreferredModelID: "A100-80GB",
	})
	require.NoError(t, err)
	assert.Equal(t, a100.ID, a.ResourceID)
	_, err = f.engine.Release(a.ID)
	require.NoError(t, err)

	// Preferred architecture constraint.
	a, err = f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "arch", PreferredArchitecture: "Ampere",
	})
	require.NoError(t, err)
	assert.Equal(t, a100.ID, a.ResourceID)

	// No resource satisfies an impossible combination.
	_, err = f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "none", PreferredArchitecture: "Hopper",
	})
	assert.True(t, errors.IsResourceExhausted(err))
}

func TestEngine_Allocate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Allocate(model.AllocationRequest{PodName: "p"})
	assert.True(t, errors.IsInvalidOperation(err))

	past := f.clock.Now().Add(-time.Hour).UnixMilli()
	_, err = f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "p", PlannedReleaseAt: &past,
	})
	assert.True(t, errors.IsInvalidOperation(err))
}

func TestEngine_AllocatePartition_FirstFit(t *testing.T) {
	f := newFixture(t)
	dev := f.registerDevice(t, 0, "A100-80GB")
	// Seven 10 GB slices followed by three 20 GB slices.
	created, err := f.partition.CreatePartitions(dev.ID, []string{
		"A100-80-1g.10gb", "A100-80-2g.20gb",
	})
	require.NoError(t, err)
	require.Len(t, created, 10)

	// 15 GB skips every 10 GB slice and takes the first 20 GB one.
	a, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "mid", UsePartition: true, RequiredMemoryGB: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, created[7].ID, a.ResourceID)
	assert.Equal(t, model.KindPartitionInstance, a.ResourceKind)
	assert.Equal(t, 20, a.GrantedMemoryGB)

	// Partition rate: device rate x performance ratio x discount.
	want := decimal.NewFromInt(3).
		Mul(decimal.NewFromFloat(0.28)).
		Mul(decimal.NewFromFloat(0.7))
	assert.True(t, a.HourlyRate.Equal(want), "got %s want %s", a.HourlyRate, want)

	inst, _ := f.store.Instances.Get(created[7].ID)
	assert.True(t, inst.Allocated)
	require.NotNil(t, inst.LastAllocatedAt)

	// A partitioned device is not eligible for whole-device allocation.
	_, err = f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "full"})
	assert.True(t, errors.IsResourceExhausted(err))
}

// An architecture preference narrows whole-device matching only; partition
// requests match on memory and preferred model alone.
func TestEngine_AllocatePartition_IgnoresArchitecturePreference(t *testing.T) {
	f := newFixture(t)
	dev := f.registerDevice(t, 0, "A100-80GB")
	created, err := f.partition.CreatePartitions(dev.ID, []string{"A100-80-3g.40gb"})
	require.NoError(t, err)

	a, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "arch", UsePartition: true,
		RequiredMemoryGB: 30, PreferredArchitecture: "Hopper",
	})
	require.NoError(t, err)
	assert.Equal(t, created[0].ID, a.ResourceID)

	// The preferred model still filters partitions.
	_, err = f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "picky", UsePartition: true, PreferredModelID: "H100-80GB",
	})
	assert.True(t, errors.IsResourceExhausted(err))
}

func TestEngine_Allocate_AtMostOnce_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.registerDevice(t, 0, "A100-80GB")

	const workers = 32
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "racer"})
			results <- err
		}()
	}
	start.Done()

	granted := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			granted++
		} else {
			require.True(t, errors.IsResourceExhausted(err))
		}
	}
	assert.Equal(t, 1, granted, "exactly one racer may win the device")
	assert.Len(t, f.engine.Active(), 1)
}

func TestEngine_Release_IdempotencyAndBilling(t *testing.T) {
	f := newFixture(t)
	dev := f.registerDevice(t, 0, "A100-80GB")

	a, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "p"})
	require.NoError(t, err)

	f.clock.Advance(90 * time.Minute)
	released, err := f.engine.Release(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AllocationReleased, released.Status)
	require.NotNil(t, released.TotalCost)
	// 90 minutes bills two full hours.
	assert.True(t, released.TotalCost.Equal(decimal.NewFromInt(6)),
		"got %s", released.TotalCost)

	// Second release fails and changes nothing.
	_, err = f.engine.Release(a.ID)
	assert.True(t, errors.IsInvalidOperation(err))
	again, _ := f.engine.Get(a.ID)
	assert.True(t, again.TotalCost.Equal(decimal.NewFromInt(6)))

	// The device is allocatable again.
	b, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "q"})
	require.NoError(t, err)
	assert.Equal(t, dev.ID, b.ResourceID)

	_, err = f.engine.Release("ALLOC-MISSING")
	assert.True(t, errors.IsNotFound(err))
}

func TestEngine_Billing_MinimumOneHourAndMonotonic(t *testing.T) {
	f := newFixture(t)
	f.registerDevice(t, 0, "A100-80GB")

	// Released after five minutes: still one hour.
	a, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "short"})
	require.NoError(t, err)
	f.clock.Advance(5 * time.Minute)
	released, err := f.engine.Release(a.ID)
	require.NoError(t, err)
	assert.True(t, released.TotalCost.Equal(decimal.NewFromInt(3)))

	// Longer holds never cost less.
	prev := decimal.Zero
	for _, hold := range []time.Duration{30 * time.Minute, 2 * time.Hour, 50 * time.Hour} {
		a, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "hold"})
		require.NoError(t, err)
		f.clock.Advance(hold)
		released, err := f.engine.Release(a.ID)
		require.NoError(t, err)
		assert.True(t, released.TotalCost.GreaterThanOrEqual(prev),
			"cost %s after %v dropped below %s", released.TotalCost, hold, prev)
		prev = *released.TotalCost
	}
}

func TestEngine_AutoExpire(t *testing.T) {
	f := newFixture(t)
	dev := f.registerDevice(t, 0, "A100-80GB")
	created, err := f.partition.CreatePartitions(dev.ID, []string{"A100-80-3g.40gb"})
	require.NoError(t, err)
	require.Len(t, created, 2)

	deadline := f.clock.Now().Add(time.Hour).UnixMilli()
	bounded, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "bounded", UsePartition: true, PlannedReleaseAt: &deadline,
	})
	require.NoError(t, err)
	openEnded, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "open", UsePartition: true,
	})
	require.NoError(t, err)

	// Nothing is due yet.
	assert.Equal(t, 0, f.engine.AutoExpire())

	f.clock.Advance(90 * time.Minute)
	assert.Equal(t, 1, f.engine.AutoExpire())

	got, _ := f.engine.Get(bounded.ID)
	assert.Equal(t, model.AllocationExpired, got.Status)
	require.NotNil(t, got.TotalCost)
	// Expiry bills exactly like release: 90 minutes, two hours.
	rate := got.HourlyRate.Mul(decimal.NewFromInt(2))
	assert.True(t, got.TotalCost.Equal(rate), "got %s want %s", got.TotalCost, rate)

	// The expired instance is free again; the open-ended one is untouched.
	inst, _ := f.store.Instances.Get(created[0].ID)
	assert.False(t, inst.Allocated)
	stillOpen, _ := f.engine.Get(openEnded.ID)
	assert.Equal(t, model.AllocationAllocated, stillOpen.Status)

	// Sweep is idempotent.
	assert.Equal(t, 0, f.engine.AutoExpire())
}

func TestEngine_ForceExpire(t *testing.T) {
	f := newFixture(t)
	f.registerDevice(t, 0, "A100-80GB")

	a, err := f.engine.Allocate(model.AllocationRequest{Namespace: "ml", PodName: "p"})
	require.NoError(t, err)

	require.NoError(t, f.engine.ForceExpire(a.ID))
	got, _ := f.engine.Get(a.ID)
	assert.Equal(t, model.AllocationExpired, got.Status)

	// Terminal records are left alone.
	require.NoError(t, f.engine.ForceExpire(a.ID))

	assert.True(t, errors.IsNotFound(f.engine.ForceExpire("ALLOC-NOPE")))
}

func TestEngine_Queries(t *testing.T) {
	f := newFixture(t)
	f.registerDevice(t, 0, "A100-80GB")
	f.registerDevice(t, 1, "T4-16GB")

	deadline := f.clock.Now().Add(time.Hour).UnixMilli()
	a0, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "ml", PodName: "a", UserID: "u1", TeamID: "t1", PlannedReleaseAt: &deadline,
	})
	require.NoError(t, err)
	a1, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "batch", PodName: "b", UserID: "u2", TeamID: "t1",
	})
	require.NoError(t, err)

	assert.Len(t, f.engine.Active(), 2)
	assert.Len(t, f.engine.ByNamespace("ml"), 1)
	assert.Len(t, f.engine.ByUser("u2"), 1)
	assert.Len(t, f.engine.ByTeam("t1"), 2)

	due := f.engine.ExpiringBefore(deadline)
	require.Len(t, due, 1)
	assert.Equal(t, a0.ID, due[0].ID)

	_, err = f.engine.Release(a1.ID)
	require.NoError(t, err)
	assert.Len(t, f.engine.Active(), 1)

	// Terminal records stay queryable as history.
	hist := f.engine.History(a1.ResourceID)
	require.Len(t, hist, 1)
	assert.Equal(t, model.AllocationReleased, hist[0].Status)
	assert.Len(t, f.engine.ByNamespace("batch"), 1)
}

// End-to-end: register, partition, allocate with constraints, release after
// 90 minutes, verify the two-hour bill.
func TestEngine_EndToEndScenario(t *testing.T) {
	f := newFixture(t)
	dev := f.registerDevice(t, 0, "A100-80GB")

	_, err := f.partition.CreatePartitions(dev.ID, []string{
		"A100-80-1g.10gb", "A100-80-2g.20gb",
	})
	require.NoError(t, err)

	a, err := f.engine.Allocate(model.AllocationRequest{
		Namespace: "research", PodName: "notebook-0", UsePartition: true,
		RequiredMemoryGB: 15, WorkloadType: "Development", TeamID: "t-research",
	})
	require.NoError(t, err)
	assert.Equal(t, 20, a.GrantedMemoryGB)

	f.clock.Advance(90 * time.Minute)
	released, err := f.engine.Release(a.ID)
	require.NoError(t, err)

	want := a.HourlyRate.Mul(decimal.NewFromInt(2))
	assert.True(t, released.TotalCost.Equal(want), "got %s want %s", released.TotalCost, want)

	// Partition teardown is possible again after release.
	require.NoError(t, f.partition.DeletePartitions(dev.ID))
	got, _ := f.store.Devices.Get(dev.ID)
	assert.Equal(t, model.DeviceActive, got.Status)
}
