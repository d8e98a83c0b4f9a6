// Package config provides configuration loading for the pipeline: JSON file
// based with environment variable overrides, typed sub-structs per component,
// defaults, and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/benmccoy/go-nem-collector/internal/models"
)

// Config is the complete application configuration.
type Config struct {
	Provider ProviderConfig `json:"provider"`
	Pipeline PipelineConfig `json:"pipeline"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
}

// ProviderConfig configures the telemetry source adapter.
type ProviderConfig struct {
	// BaseURL is the provider API endpoint.
	BaseURL string `json:"base_url" env:"NEM_PROVIDER_URL"`
	// MaxRangeDays is the provider's maximum queryable span; longer requests
	// are split into sub-ranges by the adapter.
	MaxRangeDays int `json:"provider_max_range_days" env:"NEM_PROVIDER_MAX_RANGE_DAYS"`
	// RateLimitPerMinute bounds outbound requests across all fetches.
	RateLimitPerMinute int `json:"rate_limit_per_minute" env:"NEM_RATE_LIMIT_PER_MINUTE"`
	// RetryMaxAttempts bounds the exponential backoff retry loop.
	RetryMaxAttempts int `json:"retry_max_attempts" env:"NEM_RETRY_MAX_ATTEMPTS"`
	// RequestTimeout is the per-HTTP-request timeout.
	RequestTimeout string `json:"request_timeout" env:"NEM_REQUEST_TIMEOUT"`
}

// FieldRange is an inclusive plausible value range for one field.
type FieldRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PipelineConfig configures validation, detection, and imputation behaviour.
type PipelineConfig struct {
	// DefaultImputeStrategy is applied when a collect request names none.
	DefaultImputeStrategy string `json:"default_impute_strategy" env:"NEM_DEFAULT_IMPUTE_STRATEGY"`
	// PublicationDelayMinutes is the provider's typical publication delay;
	// missing points younger than this are tagged not_yet_published.
	PublicationDelayMinutes int `json:"publication_delay_minutes" env:"NEM_PUBLICATION_DELAY_MINUTES"`
	// PlausibleRanges maps field names to plausible value bounds. The
	// "generation" key applies to any fuel field without an explicit entry.
	PlausibleRanges map[string]FieldRange `json:"plausible_range_per_field"`
	// MaxConcurrentFetches bounds parallel sub-range collection.
	MaxConcurrentFetches int `json:"max_concurrent_fetches" env:"NEM_MAX_CONCURRENT_FETCHES"`
	// RequestTimeout bounds total pipeline latency for one collect request.
	RequestTimeout string `json:"pipeline_timeout" env:"NEM_PIPELINE_TIMEOUT"`
	// SeasonalMinPeriods is the minimum number of comparable periods the
	// seasonal_mean strategy requires.
	SeasonalMinPeriods int `json:"seasonal_min_periods" env:"NEM_SEASONAL_MIN_PERIODS"`
}

// StorageConfig selects and configures the dataset store backend.
type StorageConfig struct {
	// Type selects the backend: "csv", "duckdb", or "memory".
	Type string `json:"type" env:"NEM_STORAGE_TYPE"`
	// Dir is the directory holding CSV files for the csv backend.
	Dir string `json:"dir" env:"NEM_STORAGE_DIR"`
	// DatabasePath is the DuckDB database file for the duckdb backend.
	DatabasePath string `json:"database_path" env:"NEM_DATABASE_PATH"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level" env:"NEM_LOG_LEVEL"`       // debug, info, warn, error
	Format     string `json:"format" env:"NEM_LOG_FORMAT"`     // json, text
	Output     string `json:"output" env:"NEM_LOG_OUTPUT"`     // stdout, stderr, or a file path
	MaxSizeMB  int    `json:"max_size_mb" env:"NEM_LOG_MAX_SIZE_MB"`
	MaxBackups int    `json:"max_backups" env:"NEM_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"NEM_LOG_MAX_AGE_DAYS"`
}

// Default returns the configuration defaults. Plausible ranges follow the
// AEMO market price cap/floor for spot price and generous physical bounds for
// the other fields; all are overridable.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:            "https://api.opennem.org.au",
			MaxRangeDays:       7,
			RateLimitPerMinute: 60,
			RetryMaxAttempts:   3,
			RequestTimeout:     "30s",
		},
		Pipeline: PipelineConfig{
			DefaultImputeStrategy:   string(models.StrategyLinearInterpolate),
			PublicationDelayMinutes: 60,
			PlausibleRanges: map[string]FieldRange{
				string(models.FieldDemand):      {Min: 0, Max: 20000},
				string(models.FieldSpotPrice):   {Min: -1000, Max: 15000},
				string(models.FieldTemperature): {Min: -20, Max: 55},
				"generation":                    {Min: 0, Max: 20000},
			},
			MaxConcurrentFetches: 4,
			RequestTimeout:       "5m",
			SeasonalMinPeriods:   4,
		},
		Storage: StorageConfig{
			Type: "csv",
			Dir:  "data",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads configuration from an optional JSON file, applies environment
// variable overrides, validates, and returns the result. A missing file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString(&c.Provider.BaseURL, "NEM_PROVIDER_URL")
	setInt(&c.Provider.MaxRangeDays, "NEM_PROVIDER_MAX_RANGE_DAYS")
	setInt(&c.Provider.RateLimitPerMinute, "NEM_RATE_LIMIT_PER_MINUTE")
	setInt(&c.Provider.RetryMaxAttempts, "NEM_RETRY_MAX_ATTEMPTS")
	setString(&c.Provider.RequestTimeout, "NEM_REQUEST_TIMEOUT")

	setString(&c.Pipeline.DefaultImputeStrategy, "NEM_DEFAULT_IMPUTE_STRATEGY")
	setInt(&c.Pipeline.PublicationDelayMinutes, "NEM_PUBLICATION_DELAY_MINUTES")
	setInt(&c.Pipeline.MaxConcurrentFetches, "NEM_MAX_CONCURRENT_FETCHES")
	setString(&c.Pipeline.RequestTimeout, "NEM_PIPELINE_TIMEOUT")
	setInt(&c.Pipeline.SeasonalMinPeriods, "NEM_SEASONAL_MIN_PERIODS")

	setString(&c.Storage.Type, "NEM_STORAGE_TYPE")
	setString(&c.Storage.Dir, "NEM_STORAGE_DIR")
	setString(&c.Storage.DatabasePath, "NEM_DATABASE_PATH")

	setString(&c.Logging.Level, "NEM_LOG_LEVEL")
	setString(&c.Logging.Format, "NEM_LOG_FORMAT")
	setString(&c.Logging.Output, "NEM_LOG_OUTPUT")
	setInt(&c.Logging.MaxSizeMB, "NEM_LOG_MAX_SIZE_MB")
	setInt(&c.Logging.MaxBackups, "NEM_LOG_MAX_BACKUPS")
	setInt(&c.Logging.MaxAgeDays, "NEM_LOG_MAX_AGE_DAYS")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Provider.MaxRangeDays <= 0 {
		return fmt.Errorf("provider_max_range_days must be positive, got %d", c.Provider.MaxRangeDays)
	}
	if c.Provider.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.Provider.RateLimitPerMinute)
	}
	if c.Provider.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry_max_attempts must be positive, got %d", c.Provider.RetryMaxAttempts)
	}
	if _, err := time.ParseDuration(c.Provider.RequestTimeout); err != nil {
		return fmt.Errorf("invalid provider request_timeout: %w", err)
	}
	if _, err := models.ParseImputeStrategy(c.Pipeline.DefaultImputeStrategy); err != nil {
		return err
	}
	if c.Pipeline.PublicationDelayMinutes < 0 {
		return fmt.Errorf("publication_delay_minutes cannot be negative, got %d", c.Pipeline.PublicationDelayMinutes)
	}
	if c.Pipeline.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("max_concurrent_fetches must be positive, got %d", c.Pipeline.MaxConcurrentFetches)
	}
	if _, err := time.ParseDuration(c.Pipeline.RequestTimeout); err != nil {
		return fmt.Errorf("invalid pipeline_timeout: %w", err)
	}
	if c.Pipeline.SeasonalMinPeriods < 1 {
		return fmt.Errorf("seasonal_min_periods must be at least 1, got %d", c.Pipeline.SeasonalMinPeriods)
	}
	for field, r := range c.Pipeline.PlausibleRanges {
		if r.Min > r.Max {
			return fmt.Errorf("plausible range for %s has min %g > max %g", field, r.Min, r.Max)
		}
	}
	switch c.Storage.Type {
	case "csv", "duckdb", "memory":
	default:
		return fmt.Errorf("unknown storage type %q: must be csv, duckdb, or memory", c.Storage.Type)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// ProviderRequestTimeout returns the parsed per-request timeout.
func (c *Config) ProviderRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Provider.RequestTimeout)
	return d
}

// PipelineTimeout returns the parsed per-collect deadline.
func (c *Config) PipelineTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.RequestTimeout)
	return d
}

// PublicationDelay returns the publication delay as a duration.
func (c *Config) PublicationDelay() time.Duration {
	return time.Duration(c.Pipeline.PublicationDelayMinutes) * time.Minute
}

// PlausibleRange returns the configured bounds for a field, falling back to
// the "generation" entry for fuel fields. ok is false when no bound applies.
func (c *Config) PlausibleRange(field models.FieldName) (FieldRange, bool) {
	if r, ok := c.Pipeline.PlausibleRanges[string(field)]; ok {
		return r, true
	}
	if models.FuelType(field).Valid() {
		r, ok := c.Pipeline.PlausibleRanges["generation"]
		return r, ok
	}
	return FieldRange{}, false
}
