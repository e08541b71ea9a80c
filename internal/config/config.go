// Package config holds the application configuration. Values come from an
// optional YAML file, TIKSOLVE_* environment variables and built-in defaults,
// resolved through viper in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the configuration tree.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Service ServiceConfig `mapstructure:"service" yaml:"service"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Solver  SolverConfig  `mapstructure:"solver" yaml:"solver"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// LogFile enables an additional JSON file sink, rotated by lumberjack.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// ServiceConfig points at the remote captcha-solving API.
type ServiceConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// FetchConfig controls challenge-image downloads. Headers and proxy should
// match what the browser session uses, or the CDN may serve different images
// to the fetcher than to the page.
type FetchConfig struct {
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	Proxy   string            `mapstructure:"proxy" yaml:"proxy"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout"`
}

// BrowserConfig selects and locates the browser to attach to.
type BrowserConfig struct {
	// Backend is "chromedp" or "rod".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// ControlURL is the DevTools websocket of an already-running browser,
	// e.g. ws://127.0.0.1:9222. Empty means launch a browser locally.
	ControlURL string `mapstructure:"control_url" yaml:"control_url"`
	Headless   bool   `mapstructure:"headless" yaml:"headless"`
}

// VisionConfig wires the optional self-hosted puzzle solver reached over
// NATS. When enabled it is consulted before the remote API.
type VisionConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	URL           string        `mapstructure:"url" yaml:"url"`
	Subject       string        `mapstructure:"subject" yaml:"subject"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MinConfidence float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
}

// SolverConfig tunes the orchestrator loop.
type SolverConfig struct {
	DetectTimeout time.Duration `mapstructure:"detect_timeout" yaml:"detect_timeout"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// SetDefaults seeds v with every default value. Callers layer config files
// and environment variables on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tiksolve")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	v.SetDefault("service.base_url", "")
	v.SetDefault("service.timeout", "30s")
	v.SetDefault("service.requests_per_minute", 60)

	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.headers", map[string]string{})

	v.SetDefault("browser.backend", "chromedp")
	v.SetDefault("browser.control_url", "")
	v.SetDefault("browser.headless", false)

	v.SetDefault("vision.enabled", false)
	v.SetDefault("vision.url", "nats://127.0.0.1:4222")
	v.SetDefault("vision.subject", "jobs.captcha.slider")
	v.SetDefault("vision.timeout", "30s")
	v.SetDefault("vision.min_confidence", 0.3)

	v.SetDefault("solver.detect_timeout", "15s")
	v.SetDefault("solver.max_retries", 3)
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		panic(fmt.Sprintf("unmarshaling default config: %v", err))
	}
	return cfg
}

// NewConfigFromViper unmarshals v into a Config and binds the environment
// variables that carry secrets.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("TIKSOLVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The API key is a secret; make sure the env var binding exists even
	// when the key never appears in a config file.
	_ = v.BindEnv("service.api_key", "TIKSOLVE_SERVICE_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Load reads an optional config file and builds the effective Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.APIKey == "" && !c.Vision.Enabled {
		errs = append(errs, errors.New("service.api_key is required unless vision.enabled is set"))
	}
	switch c.Browser.Backend {
	case "chromedp", "rod":
	default:
		errs = append(errs, fmt.Errorf("browser.backend must be chromedp or rod, got %q", c.Browser.Backend))
	}
	if c.Solver.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("solver.max_retries must not be negative, got %d", c.Solver.MaxRetries))
	}
	if c.Vision.MinConfidence < 0 || c.Vision.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("vision.min_confidence must be in [0,1], got %g", c.Vision.MinConfidence))
	}
	return errors.Join(errs...)
}
