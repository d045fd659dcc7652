// Package config handles configuration for tb-correlate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a config file is absent or omits a value.
const (
	DefaultIdentityPrefix = "system:serviceaccount"
	DefaultSlopSeconds    = 2
	DefaultTimeoutSeconds = 30
	DefaultBundleDir      = "bundles"
)

// Config holds all tb-correlate configuration. It is passed explicitly into
// every component; nothing reads the process environment.
type Config struct {
	// IdentityPrefix is the fixed literal prefix expected in federated
	// workload subjects, e.g. "system:serviceaccount".
	IdentityPrefix string `yaml:"identity_prefix"`

	// TimeWindowSlopSeconds is the tolerance applied when comparing an
	// event time to a workload's observed window boundaries.
	TimeWindowSlopSeconds int `yaml:"time_window_slop"`

	// TimeoutSeconds bounds each external fetch (cluster snapshot capture).
	TimeoutSeconds int `yaml:"timeout"`

	// BundleDir is where finalized evidence bundles are written.
	BundleDir string `yaml:"bundle_dir"`

	// TrailPath is the investigation activity log. Empty disables the trail.
	TrailPath string `yaml:"trail_path"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		IdentityPrefix:        DefaultIdentityPrefix,
		TimeWindowSlopSeconds: DefaultSlopSeconds,
		TimeoutSeconds:        DefaultTimeoutSeconds,
		BundleDir:             DefaultBundleDir,
	}
}

// Load reads a YAML config file. An empty path returns defaults; a missing
// file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = DefaultIdentityPrefix
	}
	if cfg.TimeWindowSlopSeconds < 0 {
		return nil, fmt.Errorf("config %s: time_window_slop must not be negative", path)
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.BundleDir == "" {
		cfg.BundleDir = DefaultBundleDir
	}
	return cfg, nil
}

// Slop returns the window tolerance as a duration.
func (c *Config) Slop() time.Duration {
	return time.Duration(c.TimeWindowSlopSeconds) * time.Second
}

// FetchTimeout returns the external fetch bound as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
