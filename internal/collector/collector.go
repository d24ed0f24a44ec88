package collector

import "context"

// Collector is a source of fleet state: node and pod informers, the
// metrics-server poller, and the GPU telemetry scraper all implement it so
// the Registry can drive them uniformly.
type Collector interface {
	// Name identifies the collector in logs ("nodes", "pods", "gpu-metrics").
	Name() string
	// Start begins watching or polling. It must not block.
	Start(ctx context.Context) error
	// WaitForSync blocks until the initial state is loaded or ctx expires.
	WaitForSync(ctx context.Context) error
	// Stop shuts the collector down. Idempotent.
	Stop()
}
