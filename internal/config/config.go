// Package config loads and validates plugin engine configuration.
package config

import (
	"fmt"
	"time"
)

// Config represents the plugin engine configuration.
type Config struct {
	// Host version checked against manifest requirements
	HostVersion string `json:"host_version" mapstructure:"host_version"`

	// Archive handling
	Archive ArchiveConfig `json:"archive" mapstructure:"archive"`

	// Health monitoring
	Health HealthConfig `json:"health" mapstructure:"health"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ArchiveConfig holds plugin archive handling settings.
type ArchiveConfig struct {
	// Timeout bounds blob store reads and writes
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// MaxManifestSize caps the decompressed manifest size in bytes
	MaxManifestSize int64 `json:"max_manifest_size" mapstructure:"max_manifest_size"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	// Interval between sweeps over active plugins
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// CheckTimeout bounds a single plugin health check
	CheckTimeout time.Duration `json:"check_timeout" mapstructure:"check_timeout"`
	// FailureThreshold is the consecutive-failure count that marks a plugin errored
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		HostVersion: "1.0.0",
		Archive: ArchiveConfig{
			Timeout:         30 * time.Second,
			MaxManifestSize: 1 << 20,
		},
		Health: HealthConfig{
			Interval:         60 * time.Second,
			CheckTimeout:     5 * time.Second,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.HostVersion == "" {
		return fmt.Errorf("host_version is required")
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive.timeout must be positive")
	}
	if c.Archive.MaxManifestSize <= 0 {
		return fmt.Errorf("archive.max_manifest_size must be positive")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive")
	}
	if c.Health.CheckTimeout <= 0 {
		return fmt.Errorf("health.check_timeout must be positive")
	}
	if c.Health.CheckTimeout >= c.Health.Interval {
		return fmt.Errorf("health.check_timeout must be shorter than health.interval")
	}
	if c.Health.FailureThreshold <= 0 {
		return fmt.Errorf("health.failure_threshold must be positive")
	}
	return nil
}
