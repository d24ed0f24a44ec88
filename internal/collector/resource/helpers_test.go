package resource

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/duck3244/k8s-gpu-management/internal/catalog"
	"github.com/duck3244/k8s-gpu-management/internal/collector"
	apperrors "github.com/duck3244/k8s-gpu-management/internal/errors"
	"github.com/duck3244/k8s-gpu-management/internal/observability"
	"github.com/duck3244/k8s-gpu-management/internal/registry"
	"github.com/duck3244/k8s-gpu-management/internal/store"
	"k8s.io/client-go/kubernetes/fake"
)

const (
	testResyncPeriod = 0 // no resync in tests
	waitTimeout      = 5 * time.Second
	pollInterval     = 50 * time.Millisecond
)

// testEnv bundles the dependencies shared by every collector test.
type testEnv struct {
	client   *fake.Clientset
	store    *store.Store
	registry *registry.Registry
	metrics  *observability.Metrics
	ctx      context.Context
	cancel   context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.NewStore()
	cat := catalog.New(st.Models, st.Profiles)
	require.NoError(t, cat.Seed(catalog.DefaultModels(), catalog.DefaultProfiles()))
	reg := registry.New(st, cat, apperrors.RealClock{}, slog.Default())

	return &testEnv{
		client:   fake.NewSimpleClientset(),
		store:    st,
		registry: reg,
		metrics:  observability.NewMetrics(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// startCollector is a helper that starts a collector and waits for sync.
func startCollector(t *testing.T, env *testEnv, c collector.Collector) {
	t.Helper()
	err := c.Start(env.ctx)
	require.NoError(t, err, "Start() should succeed")
	err = c.WaitForSync(env.ctx)
	require.NoError(t, err, "WaitForSync() should succeed")
	t.Cleanup(c.Stop)
}
