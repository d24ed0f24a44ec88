package gpu

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// scrapeTimeout bounds a single endpoint fetch so one hung exporter pod
// cannot stall the whole collection cycle.
const scrapeTimeout = 5 * time.Second

// scrapeEndpoint fetches raw exposition text from a dcgm-exporter endpoint.
// endpoint is a base URL such as "http://10.0.0.5:9400"; "/metrics" is
// appended here.
func scrapeEndpoint(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	url := strings.TrimRight(endpoint, "/") + "/metrics"

	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	return body, nil
}
