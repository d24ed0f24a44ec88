package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry owns the lifecycle of every registered collector. All methods
// are safe for concurrent use; the collector slice is copied under the
// lock so Start/Sync/Stop never hold it while calling into a collector.
type Registry struct {
	mu         sync.Mutex
	collectors []Collector
	started    bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a collector. Registering after StartAll has no effect on
// already-running collectors.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors = append(r.collectors, c)
}

// snapshot returns a copy of the collector slice.
func (r *Registry) snapshot() []Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Collector, len(r.collectors))
	copy(out, r.collectors)
	return out
}

// PartialStartError reports that some, but not all, collectors failed to
// start. Callers detect it with errors.As and run on the survivors.
type PartialStartError struct {
	Failed []string
	Total  int
}

func (e *PartialStartError) Error() string {
	return fmt.Sprintf("%d of %d collectors failed to start: %v", len(e.Failed), e.Total, e.Failed)
}

// StartAll starts every registered collector in parallel. If every
// collector fails the returned error is terminal; if only some fail it is
// a PartialStartError.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	collectors := r.snapshot()
	if len(collectors) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []string
	)

	for _, c := range collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				slog.Error("collector start failed", "collector", c.Name(), "error", err)
				failedMu.Lock()
				failed = append(failed, c.Name())
				failedMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	switch {
	case len(failed) == len(collectors):
		return fmt.Errorf("all %d collectors failed to start", len(failed))
	case len(failed) > 0:
		return &PartialStartError{Failed: failed, Total: len(collectors)}
	}
	return nil
}

// WaitForSync blocks until every collector's informer cache has synced or
// the context expires.
func (r *Registry) WaitForSync(ctx context.Context) error {
	collectors := r.snapshot()
	if len(collectors) == 0 {
		return nil
	}

	errCh := make(chan error, len(collectors))
	var wg sync.WaitGroup

	for _, c := range collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			errCh <- c.WaitForSync(ctx)
		}(c)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return fmt.Errorf("collector sync failed: %w", err)
		}
	}

	return nil
}

// StopAll stops every collector. Calling it again, or before StartAll, is
// a no-op.
func (r *Registry) StopAll() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	for _, c := range r.snapshot() {
		c.Stop()
	}
}

// Collectors returns a copy of the registered collectors.
func (r *Registry) Collectors() []Collector {
	return r.snapshot()
}
