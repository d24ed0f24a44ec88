package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CloudMetadata identifies where the agent is running. Provider and Region
// are stamped onto fleet snapshots so the backend can bucket realized GPU
// cost by cloud account.
type CloudMetadata struct {
	AccountID    string
	Region       string
	Zone         string
	InstanceType string
	InstanceID   string
	Provider     string // "aws", "gcp", "azure", or "" when undetected
}

const (
	awsIMDSBase     = "http://169.254.169.254"
	gcpMetadataBase = "http://metadata.google.internal/computeMetadata/v1"
	azureIMDSBase   = "http://169.254.169.254"
)

// prober asks one provider's instance metadata service for identity. base
// is parameterized so tests can point probes at an httptest server.
type prober struct {
	name  string
	base  string
	probe func(ctx context.Context, client *http.Client, base string) (CloudMetadata, error)
}

var probers = []prober{
	{"aws", awsIMDSBase, probeAWS},
	{"gcp", gcpMetadataBase, probeGCP},
	{"azure", azureIMDSBase, probeAzure},
}

// DetectCloudMetadata probes AWS, GCP, and Azure metadata services in turn
// and returns the first identity that answers. Off-cloud (or with IMDS
// blocked) every probe times out and the zero value is returned.
func DetectCloudMetadata(ctx context.Context, timeout time.Duration) CloudMetadata {
	client := &http.Client{Timeout: timeout}

	for _, p := range probers {
		md, err := p.probe(ctx, client, p.base)
		if err != nil {
			slog.Debug("cloud metadata probe missed", "provider", p.name, "error", err)
			continue
		}
		slog.Debug("cloud metadata detected", "provider", p.name, "account", md.AccountID, "region", md.Region)
		return md
	}

	return CloudMetadata{}
}

// probeAWS speaks IMDSv2: a session token first, then the instance
// identity document.
func probeAWS(ctx context.Context, client *http.Client, base string) (CloudMetadata, error) {
	token, err := fetch(ctx, client, http.MethodPut, base+"/latest/api/token",
		"X-aws-ec2-metadata-token-ttl-seconds", "60")
	if err != nil {
		return CloudMetadata{}, fmt.Errorf("IMDS token: %w", err)
	}

	body, err := fetch(ctx, client, http.MethodGet, base+"/latest/dynamic/instance-identity/document",
		"X-aws-ec2-metadata-token", string(token))
	if err != nil {
		return CloudMetadata{}, fmt.Errorf("IMDS identity document: %w", err)
	}

	var doc struct {
		AccountID        string `json:"accountId"`
		Region           string `json:"region"`
		AvailabilityZone string `json:"availabilityZone"`
		InstanceType     string `json:"instanceType"`
		InstanceID       string `json:"instanceId"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return CloudMetadata{}, err
	}

	return CloudMetadata{
		AccountID:    doc.AccountID,
		Region:       doc.Region,
		Zone:         doc.AvailabilityZone,
		InstanceType: doc.InstanceType,
		InstanceID:   doc.InstanceID,
		Provider:     "aws",
	}, nil
}

func probeGCP(ctx context.Context, client *http.Client, base string) (CloudMetadata, error) {
	get := func(path string) (string, error) {
		body, err := fetch(ctx, client, http.MethodGet, base+path, "Metadata-Flavor", "Google")
		if err != nil {
			return "", fmt.Errorf("GCP metadata %s: %w", path, err)
		}
		return string(body), nil
	}

	projectID, err := get("/project/project-id")
	if err != nil {
		return CloudMetadata{}, err
	}

	// Zone and machine type arrive as full resource paths
	// ("projects/<n>/zones/us-central1-a"); keep the last segment.
	zonePath, err := get("/instance/zone")
	if err != nil {
		return CloudMetadata{}, err
	}
	zone := lastSegment(zonePath, "/")
	region := zone
	if idx := strings.LastIndex(zone, "-"); idx > 0 {
		region = zone[:idx]
	}

	machineTypePath, err := get("/instance/machine-type")
	if err != nil {
		return CloudMetadata{}, err
	}

	return CloudMetadata{
		AccountID:    projectID,
		Region:       region,
		Zone:         zone,
		InstanceType: lastSegment(machineTypePath, "/"),
		Provider:     "gcp",
	}, nil
}

func probeAzure(ctx context.Context, client *http.Client, base string) (CloudMetadata, error) {
	body, err := fetch(ctx, client, http.MethodGet, base+"/metadata/instance?api-version=2021-02-01",
		"Metadata", "true")
	if err != nil {
		return CloudMetadata{}, fmt.Errorf("azure IMDS: %w", err)
	}

	var doc struct {
		Compute struct {
			SubscriptionID string `json:"subscriptionId"`
			Location       string `json:"location"`
			VMSize         string `json:"vmSize"`
			VMID           string `json:"vmId"`
		} `json:"compute"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return CloudMetadata{}, err
	}

	return CloudMetadata{
		AccountID:    doc.Compute.SubscriptionID,
		Region:       doc.Compute.Location,
		InstanceType: doc.Compute.VMSize,
		InstanceID:   doc.Compute.VMID,
		Provider:     "azure",
	}, nil
}

// fetch performs one metadata request with a single header and returns the
// body on HTTP 200.
func fetch(ctx context.Context, client *http.Client, method, url, headerKey, headerValue string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerKey, headerValue)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func lastSegment(s, sep string) string {
	if idx := strings.LastIndex(s, sep); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
