package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: GPUMGMT_API_KEY is required")
	}

	if c.BackendURL == "" {
		return fmt.Errorf("config: GPUMGMT_BACKEND_URL is required")
	}
	if !c.AllowInsecure && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("config: GPUMGMT_BACKEND_URL must use https:// (got %q); set GPUMGMT_ALLOW_INSECURE=true to override", c.BackendURL)
	}

	if c.SnapshotInterval < 10*time.Second {
		return fmt.Errorf("config: SnapshotInterval must be >= 10s, got %v", c.SnapshotInterval)
	}

	if c.MetricsInterval < 10*time.Second {
		return fmt.Errorf("config: MetricsInterval must be >= 10s, got %v", c.MetricsInterval)
	}

	if c.CompressionLevel < 1 || c.CompressionLevel > 4 {
		return fmt.Errorf("config: CompressionLevel must be 1-4, got %d", c.CompressionLevel)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("config: MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.HealthPort < 1 || c.HealthPort > 65535 {
		return fmt.Errorf("config: HealthPort must be 1-65535, got %d", c.HealthPort)
	}

	if c.ExpirySweepInterval < time.Second {
		return fmt.Errorf("config: ExpirySweepInterval must be >= 1s, got %v", c.ExpirySweepInterval)
	}

	if c.FallbackHourlyRate.IsNegative() {
		return fmt.Errorf("config: GPUMGMT_FALLBACK_RATE must be >= 0, got %s", c.FallbackHourlyRate)
	}
	for m, r := range c.CostRates {
		if r.IsNegative() {
			return fmt.Errorf("config: rate for model %s must be >= 0, got %s", m, r)
		}
	}
	if c.PartitionDiscount.IsNegative() || c.PartitionDiscount.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: GPUMGMT_PARTITION_DISCOUNT must be in [0,1], got %s", c.PartitionDiscount)
	}

	if c.OverheatThresholdC <= 0 {
		return fmt.Errorf("config: GPUMGMT_OVERHEAT_THRESHOLD must be > 0, got %v", c.OverheatThresholdC)
	}

	return nil
}
