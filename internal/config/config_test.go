package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/studiovault")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "studiovault", cfg.S3Bucket)
	assert.True(t, cfg.FallbackEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 30, cfg.BatchConcurrency)
	assert.InDelta(t, 0.8, cfg.QuotaWarnRatio, 1e-9)
	assert.Empty(t, cfg.ReindexSchedule)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/sv")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("STORE_RETRY_BACKOFF", "2s")
	t.Setenv("BATCH_CONCURRENCY", "8")
	t.Setenv("QUOTA_WARN_RATIO", "0.9")
	t.Setenv("REINDEX_SCHEDULE", "@every 1h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 8, cfg.BatchConcurrency)
	assert.InDelta(t, 0.9, cfg.QuotaWarnRatio, 1e-9)
	assert.Equal(t, "@every 1h", cfg.ReindexSchedule)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/sv")
	t.Setenv("S3_USE_SSL", "maybe")
	t.Setenv("BATCH_CONCURRENCY", "lots")
	t.Setenv("STORE_RETRY_BACKOFF", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.S3UseSSL)
	assert.Equal(t, 30, cfg.BatchConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
}

func TestValidate(t *testing.T) {
	base := Config{
		S3Bucket:         "b",
		BatchConcurrency: 1,
		QuotaWarnRatio:   0.5,
		FallbackEnabled:  true,
		LocalStoragePath: "/tmp/x",
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bucket", func(c *Config) { c.S3Bucket = "" }},
		{"zero concurrency", func(c *Config) { c.BatchConcurrency = 0 }},
		{"ratio above one", func(c *Config) { c.QuotaWarnRatio = 1.5 }},
		{"zero ratio", func(c *Config) { c.QuotaWarnRatio = 0 }},
		{"negative backoff", func(c *Config) { c.RetryBackoff = -time.Second }},
		{"fallback without path", func(c *Config) { c.LocalStoragePath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadCleanupRulesDefault(t *testing.T) {
	rules, err := LoadCleanupRules("")
	require.NoError(t, err)
	require.NotEmpty(t, rules)
	assert.Equal(t, "download_entitlements", rules[0].Table)
	assert.True(t, rules[0].Required)
}

func writeRules(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadCleanupRulesFile(t *testing.T) {
	path := writeRules(t, `
rules:
  - table: download_entitlements
    match: [session_id, filename]
    required: true
  - table: share_links
    match: [storage_key]
`)
	rules, err := LoadCleanupRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "share_links", rules[1].Table)
	assert.Equal(t, []string{"storage_key"}, rules[1].MatchColumns)
	assert.False(t, rules[1].Required)
}

func TestLoadCleanupRulesRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad table":  "rules:\n  - table: \"x; drop table assets\"\n    match: [filename]\n",
		"bad column": "rules:\n  - table: t\n    match: [owner]\n",
		"no columns": "rules:\n  - table: t\n",
		"not yaml":   "rules: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCleanupRules(writeRules(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadCleanupRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
