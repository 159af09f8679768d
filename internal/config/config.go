// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all studiovault configuration.
type Config struct {
	// Server
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL   string
	MigrationsDir string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Local fallback used when the remote store is unreachable
	FallbackEnabled  bool
	LocalStoragePath string

	// Store behaviour
	RetryBackoff time.Duration
	PresignTTL   time.Duration

	// Deletion
	BatchConcurrency int
	CleanupRulesFile string

	// Usage reporting
	QuotaWarnRatio float64

	// Reindex sweep (cron spec, empty = disabled)
	ReindexSchedule string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		MigrationsDir:    envOr("MIGRATIONS_DIR", ""),
		S3Endpoint:       envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:         envOr("S3_BUCKET", "studiovault"),
		S3AccessKey:      envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:      envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", false),
		FallbackEnabled:  envBool("STORE_FALLBACK_ENABLED", true),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "/data/studiovault"),
		RetryBackoff:     envDuration("STORE_RETRY_BACKOFF", 500*time.Millisecond),
		PresignTTL:       envDuration("PRESIGN_TTL", 15*time.Minute),
		BatchConcurrency: envInt("BATCH_CONCURRENCY", 30),
		CleanupRulesFile: envOr("CLEANUP_RULES_FILE", ""),
		QuotaWarnRatio:   envFloat("QUOTA_WARN_RATIO", 0.8),
		ReindexSchedule:  envOr("REINDEX_SCHEDULE", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges that env parsing cannot express.
func (c *Config) Validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET must not be empty")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.BatchConcurrency)
	}
	if c.QuotaWarnRatio <= 0 || c.QuotaWarnRatio > 1 {
		return fmt.Errorf("QUOTA_WARN_RATIO must be in (0, 1], got %v", c.QuotaWarnRatio)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("STORE_RETRY_BACKOFF must not be negative")
	}
	if c.FallbackEnabled && c.LocalStoragePath == "" {
		return fmt.Errorf("LOCAL_STORAGE_PATH is required when STORE_FALLBACK_ENABLED is set")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
