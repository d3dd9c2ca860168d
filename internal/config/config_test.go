package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "*.jsonl", cfg.Watch.Pattern)
	assert.True(t, cfg.Detection.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Detection.Window)
	assert.Equal(t, 500, cfg.Detection.RecentLimit)
	assert.Equal(t, 50, cfg.Delivery.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Delivery.FlushInterval)
	assert.Equal(t, []string{"critical"}, cfg.Alerts.Levels)
	assert.False(t, cfg.Delivery.Enabled)
	assert.False(t, cfg.Alerts.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolwatch.yaml")
	body := `
watch:
  dir: /var/log/agent
  from_start: true
detection:
  window: 2m
delivery:
  enabled: true
  endpoint: https://collector.example.com/ingest
  batch_size: 5
alerts:
  enabled: true
  url: https://hooks.example.com/x
  format: slack
  levels: [high, critical]
  headers:
    X-Team: sec
classifier:
  trusted_roots: [/home/agent/work]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/agent", cfg.Watch.Dir)
	assert.True(t, cfg.Watch.FromStart)
	assert.Equal(t, 2*time.Minute, cfg.Detection.Window)
	assert.Equal(t, 2*time.Minute, cfg.Sequence().Window)
	assert.Equal(t, 5, cfg.Delivery.BatchSize)
	assert.Equal(t, 1000, cfg.Delivery.MaxBuffer, "unset keys keep defaults")
	assert.Equal(t, "slack", cfg.Alerts.Format)
	assert.Equal(t, []string{"high", "critical"}, cfg.Alerts.Levels)
	assert.Equal(t, "sec", cfg.Alerts.Headers["x-team"])
	assert.Equal(t, []string{"/home/agent/work"}, cfg.Classifier.TrustedRoots)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delivery:\n  api_key: from-file\n"), 0600))
	t.Setenv("TOOLWATCH_DELIVERY_API_KEY", "from-env")
	t.Setenv("TOOLWATCH_DETECTION_WINDOW", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Delivery.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Detection.Window)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch: [unclosed"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"delivery without endpoint", func(c *Config) { c.Delivery.Enabled = true }, "delivery.endpoint"},
		{"delivery bad scheme", func(c *Config) {
			c.Delivery.Enabled = true
			c.Delivery.Endpoint = "ftp://x"
		}, "scheme"},
		{"batch above buffer", func(c *Config) { c.Delivery.BatchSize = 2000 }, "batch_size"},
		{"alerts without url", func(c *Config) { c.Alerts.Enabled = true }, "alerts.url"},
		{"unknown format", func(c *Config) { c.Alerts.Format = "teams" }, "alerts.format"},
		{"unknown level", func(c *Config) { c.Alerts.Levels = []string{"severe"} }, "alerts.levels"},
		{"bad pattern", func(c *Config) { c.Watch.Pattern = "[" }, "watch.pattern"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"bad redact pattern", func(c *Config) { c.Redact.Patterns = []string{"("} }, "redact.patterns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), ExpandHome("~/logs"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}
