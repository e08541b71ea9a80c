package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreSane(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "tiksolve", cfg.Logger.ServiceName)
	assert.Equal(t, "chromedp", cfg.Browser.Backend)
	assert.Equal(t, 15*time.Second, cfg.Solver.DetectTimeout)
	assert.Equal(t, 3, cfg.Solver.MaxRetries)
	assert.Equal(t, "jobs.captcha.slider", cfg.Vision.Subject)
	assert.False(t, cfg.Vision.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
service:
  api_key: file-key
  requests_per_minute: 10
browser:
  backend: rod
  control_url: ws://127.0.0.1:9222
solver:
  max_retries: 5
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.Service.APIKey)
	assert.Equal(t, 10, cfg.Service.RequestsPerMinute)
	assert.Equal(t, "rod", cfg.Browser.Backend)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.Browser.ControlURL)
	assert.Equal(t, 5, cfg.Solver.MaxRetries)
	// Untouched sections keep their defaults.
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("TIKSOLVE_SERVICE_API_KEY", "env-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Service.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "api key set",
			mutate: func(c *Config) { c.Service.APIKey = "k" },
		},
		{
			name:   "vision only",
			mutate: func(c *Config) { c.Vision.Enabled = true },
		},
		{
			name:    "no solver at all",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "bad backend",
			mutate: func(c *Config) {
				c.Service.APIKey = "k"
				c.Browser.Backend = "playwright"
			},
			wantErr: true,
		},
		{
			name: "confidence out of range",
			mutate: func(c *Config) {
				c.Service.APIKey = "k"
				c.Vision.MinConfidence = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
