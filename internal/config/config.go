package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds all agent configuration values.
type Config struct {
	APIKey               string
	ClusterID            string
	ClusterName          string
	BackendURL           string
	SnapshotInterval     time.Duration
	MetricsInterval      time.Duration
	InformerResyncPeriod time.Duration
	InformerSyncTimeout  time.Duration
	CompressionLevel     int
	MaxRetries           int
	RequestTimeout       time.Duration
	HealthPort           int
	AgentVersion         string

	// Security
	AllowInsecure  bool // GPUMGMT_ALLOW_INSECURE, default: false — allows http:// BackendURL
	DebugEndpoints bool // GPUMGMT_DEBUG_ENDPOINTS, default: false — enables pprof/debug on health port

	// GPU telemetry
	GPUMetricsEnabled     bool          // GPUMGMT_GPU_METRICS_ENABLED, default: true
	DCGMExporterPort      int           // GPUMGMT_DCGM_PORT, default: 9400
	DCGMExporterNamespace string        // GPUMGMT_DCGM_NAMESPACE, default: "" (auto-detect)
	DCGMExporterEndpoints []string      // GPUMGMT_DCGM_ENDPOINTS, comma-separated IPs/hosts override (for local dev)
	GPUMetricsInterval    time.Duration // GPUMGMT_GPU_METRICS_INTERVAL, default: MetricsInterval

	// Sweeps
	ExpirySweepInterval  time.Duration // GPUMGMT_EXPIRY_SWEEP_INTERVAL, default: 5m
	CleanupSweepInterval time.Duration // GPUMGMT_CLEANUP_SWEEP_INTERVAL, default: 24h
	UsagePruneInterval   time.Duration // GPUMGMT_USAGE_PRUNE_INTERVAL, default: 1h
	UsageRetention       time.Duration // GPUMGMT_USAGE_RETENTION, default: 24h
	UnusedPartitionAge   time.Duration // GPUMGMT_UNUSED_PARTITION_AGE, default: 720h (30 days)

	// Pricing and suggestions
	CostRates           map[string]decimal.Decimal // GPUMGMT_COST_RATES, "model=rate" pairs
	FallbackHourlyRate  decimal.Decimal            // GPUMGMT_FALLBACK_RATE, default: 1.0
	Currency            string                     // GPUMGMT_CURRENCY, default: USD
	PartitionDiscount   decimal.Decimal            // GPUMGMT_PARTITION_DISCOUNT, default: 0.7
	OverheatThresholdC  float64                    // GPUMGMT_OVERHEAT_THRESHOLD, default: 85.0
	RightsizingMemoryGB int                        // GPUMGMT_RIGHTSIZING_MEMORY_GB, default: 20
	StaleAfterDays      int                        // GPUMGMT_STALE_AFTER_DAYS, default: 7
	IdleDeviceSurplus   int                        // GPUMGMT_IDLE_DEVICE_SURPLUS, default: 2
	CostAnalysisDays    int                        // GPUMGMT_COST_ANALYSIS_DAYS, default: 30
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values.
func Load() Config {
	cfg := Config{
		APIKey:               os.Getenv("GPUMGMT_API_KEY"),
		ClusterID:            os.Getenv("GPUMGMT_CLUSTER_ID"),
		ClusterName:          os.Getenv("GPUMGMT_CLUSTER_NAME"),
		BackendURL:           envOrDefault("GPUMGMT_BACKEND_URL", "https://api.gpumgmt.io"),
		SnapshotInterval:     parseDuration("GPUMGMT_SNAPSHOT_INTERVAL", 60*time.Second),
		MetricsInterval:      parseDuration("GPUMGMT_METRICS_INTERVAL", 60*time.Second),
		InformerResyncPeriod: parseDuration("GPUMGMT_INFORMER_RESYNC", 300*time.Second),
		InformerSyncTimeout:  parseDuration("GPUMGMT_INFORMER_SYNC_TIMEOUT", 5*time.Minute),
		CompressionLevel:     parseInt("GPUMGMT_COMPRESSION_LEVEL", 3),
		MaxRetries:           parseInt("GPUMGMT_MAX_RETRIES", 5),
		RequestTimeout:       parseDuration("GPUMGMT_REQUEST_TIMEOUT", 30*time.Second),
		HealthPort:           parseInt("GPUMGMT_HEALTH_PORT", 8080),
	}

	if cfg.ClusterID == "" {
		cfg.ClusterID = uuid.New().String()
	}

	cfg.AllowInsecure = parseBool("GPUMGMT_ALLOW_INSECURE", false)
	cfg.DebugEndpoints = parseBool("GPUMGMT_DEBUG_ENDPOINTS", false)

	cfg.GPUMetricsEnabled = parseBool("GPUMGMT_GPU_METRICS_ENABLED", true)
	cfg.DCGMExporterPort = parseInt("GPUMGMT_DCGM_PORT", 9400)
	cfg.DCGMExporterNamespace = envOrDefault("GPUMGMT_DCGM_NAMESPACE", "")
	cfg.DCGMExporterEndpoints = parseStringSlice("GPUMGMT_DCGM_ENDPOINTS")
	cfg.GPUMetricsInterval = parseDuration("GPUMGMT_GPU_METRICS_INTERVAL", cfg.MetricsInterval)

	cfg.ExpirySweepInterval = parseDuration("GPUMGMT_EXPIRY_SWEEP_INTERVAL", 5*time.Minute)
	cfg.CleanupSweepInterval = parseDuration("GPUMGMT_CLEANUP_SWEEP_INTERVAL", 24*time.Hour)
	cfg.UsagePruneInterval = parseDuration("GPUMGMT_USAGE_PRUNE_INTERVAL", time.Hour)
	cfg.UsageRetention = parseDuration("GPUMGMT_USAGE_RETENTION", 24*time.Hour)
	cfg.UnusedPartitionAge = parseDuration("GPUMGMT_UNUSED_PARTITION_AGE", 720*time.Hour)

	cfg.CostRates = parseRates("GPUMGMT_COST_RATES")
	cfg.FallbackHourlyRate = parseDecimal("GPUMGMT_FALLBACK_RATE", decimal.NewFromInt(1))
	cfg.Currency = envOrDefault("GPUMGMT_CURRENCY", "USD")
	cfg.PartitionDiscount = parseDecimal("GPUMGMT_PARTITION_DISCOUNT", decimal.NewFromFloat(0.7))
	cfg.OverheatThresholdC = parseFloat("GPUMGMT_OVERHEAT_THRESHOLD", 85.0)
	cfg.RightsizingMemoryGB = parseInt("GPUMGMT_RIGHTSIZING_MEMORY_GB", 20)
	cfg.StaleAfterDays = parseInt("GPUMGMT_STALE_AFTER_DAYS", 7)
	cfg.IdleDeviceSurplus = parseInt("GPUMGMT_IDLE_DEVICE_SURPLUS", 2)
	cfg.CostAnalysisDays = parseInt("GPUMGMT_COST_ANALYSIS_DAYS", 30)

	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func parseDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseRates reads "model=rate" pairs, comma-separated. Malformed pairs are
// skipped.
func parseRates(key string) map[string]decimal.Decimal {
	v := os.Getenv(key)
	rates := make(map[string]decimal.Decimal)
	if v == "" {
		return rates
	}
	for _, pair := range strings.Split(v, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		r, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		rates[name] = r
	}
	return rates
}

func parseStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
