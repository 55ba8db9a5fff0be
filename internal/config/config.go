// Package config handles configuration loading and validation for permauri.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreConfig holds the S3-compatible object store settings. Credentials
// are usually supplied through the environment rather than the file.
type StoreConfig struct {
	Endpoint  string `yaml:"endpoint"`   // e.g. https://nyc3.digitaloceanspaces.com; empty for AWS
	Region    string `yaml:"region"`     // signing region (default: us-east-1)
	Bucket    string `yaml:"bucket"`     // bucket to index (required)
	Prefix    string `yaml:"prefix"`     // optional sub-prefix to index
	AccessKey string `yaml:"access_key"` // overridden by PERMAURI_ACCESS_KEY
	SecretKey string `yaml:"secret_key"` // overridden by PERMAURI_SECRET_KEY
	Timeout   string `yaml:"timeout"`    // per-call timeout, duration string (default: "30s")
}

// MonitorConfig holds the reconciliation schedule. Mode picks a default
// interval: "index" reconciles hourly, "watch" every 60 seconds. An
// explicit interval wins over the mode default.
type MonitorConfig struct {
	Mode     string `yaml:"mode"`     // "index" (default) or "watch"
	Interval string `yaml:"interval"` // duration string, e.g. "1h", "60s"
}

// Config holds runtime configuration for permauri.
type Config struct {
	Listen        string        `yaml:"listen"`         // HTTP listen address (default: ":5052")
	DataDir       string        `yaml:"data_dir"`       // persisted state directory (default: "./data")
	BaseURL       string        `yaml:"base_url"`       // public base for exported permanent URLs
	PresignExpiry string        `yaml:"presign_expiry"` // signed URL lifetime (default: "1h")
	Store         StoreConfig   `yaml:"store"`
	Monitor       MonitorConfig `yaml:"monitor"`
}

// Default returns a Config with safe local defaults.
func Default() *Config {
	return &Config{
		Listen:        ":5052",
		DataDir:       "./data",
		PresignExpiry: "1h",
		Store: StoreConfig{
			Region:  "us-east-1",
			Timeout: "30s",
		},
		Monitor: MonitorConfig{
			Mode: "index",
		},
	}
}

// Load reads configuration from a YAML file, applies environment
// overrides, and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PERMAURI_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PERMAURI_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PERMAURI_ENDPOINT"); v != "" {
		cfg.Store.Endpoint = v
	}
	if v := os.Getenv("PERMAURI_REGION"); v != "" {
		cfg.Store.Region = v
	}
	if v := os.Getenv("PERMAURI_BUCKET"); v != "" {
		cfg.Store.Bucket = v
	}
	if v := os.Getenv("PERMAURI_PREFIX"); v != "" {
		cfg.Store.Prefix = v
	}
	if v := os.Getenv("PERMAURI_ACCESS_KEY"); v != "" {
		cfg.Store.AccessKey = v
	}
	if v := os.Getenv("PERMAURI_SECRET_KEY"); v != "" {
		cfg.Store.SecretKey = v
	}
}

// Validate checks required fields and duration syntax.
func (c *Config) Validate() error {
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	switch c.Monitor.Mode {
	case "", "index", "watch":
	default:
		return fmt.Errorf("monitor.mode must be \"index\" or \"watch\", got %q", c.Monitor.Mode)
	}
	if _, err := c.MonitorInterval(); err != nil {
		return err
	}
	if _, err := c.PresignExpiryDuration(); err != nil {
		return err
	}
	if _, err := c.StoreTimeout(); err != nil {
		return err
	}
	return nil
}

// MonitorInterval resolves the reconciliation interval: an explicit
// duration when set, otherwise the mode default (index: 1h, watch: 60s).
func (c *Config) MonitorInterval() (time.Duration, error) {
	if c.Monitor.Interval != "" {
		d, err := time.ParseDuration(c.Monitor.Interval)
		if err != nil {
			return 0, fmt.Errorf("parse monitor.interval: %w", err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("monitor.interval must be positive, got %q", c.Monitor.Interval)
		}
		return d, nil
	}
	if c.Monitor.Mode == "watch" {
		return 60 * time.Second, nil
	}
	return time.Hour, nil
}

// PresignExpiryDuration parses the signed URL lifetime.
func (c *Config) PresignExpiryDuration() (time.Duration, error) {
	if c.PresignExpiry == "" {
		return time.Hour, nil
	}
	d, err := time.ParseDuration(c.PresignExpiry)
	if err != nil {
		return 0, fmt.Errorf("parse presign_expiry: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("presign_expiry must be positive, got %q", c.PresignExpiry)
	}
	return d, nil
}

// StoreTimeout parses the per-call store timeout.
func (c *Config) StoreTimeout() (time.Duration, error) {
	if c.Store.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Store.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse store.timeout: %w", err)
	}
	return d, nil
}
