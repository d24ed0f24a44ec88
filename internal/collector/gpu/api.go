package gpu

import (
	"context"
	"log/slog"
	"net/http"
)

// GPUMetricsAPI abstracts the telemetry source so collector tests can
// substitute canned samples for live dcgm-exporter endpoints.
type GPUMetricsAPI interface {
	ScrapeGPUMetrics(ctx context.Context, endpoints []string) ([]GPUDeviceMetrics, error)
}

// dcgmExporterClient scrapes one or more dcgm-exporter HTTP endpoints and
// merges the parsed samples.
type dcgmExporterClient struct {
	client *http.Client
}

// NewDCGMExporterClient creates a GPUMetricsAPI backed by dcgm-exporter.
func NewDCGMExporterClient(client *http.Client) GPUMetricsAPI {
	return &dcgmExporterClient{client: client}
}

// ScrapeGPUMetrics scrapes every endpoint, skipping ones that fail. Losing
// one exporter pod must not discard telemetry from the rest of the fleet.
func (c *dcgmExporterClient) ScrapeGPUMetrics(ctx context.Context, endpoints []string) ([]GPUDeviceMetrics, error) {
	var merged []GPUDeviceMetrics

	for _, endpoint := range endpoints {
		samples, err := c.scrapeOne(ctx, endpoint)
		if err != nil {
			slog.Warn("dcgm-exporter scrape failed",
				"endpoint", endpoint,
				"error", err,
			)
			continue
		}
		merged = append(merged, samples...)
	}

	return merged, nil
}

func (c *dcgmExporterClient) scrapeOne(ctx context.Context, endpoint string) ([]GPUDeviceMetrics, error) {
	body, err := scrapeEndpoint(ctx, c.client, endpoint)
	if err != nil {
		return nil, err
	}
	return ParseDCGMMetrics(body)
}
