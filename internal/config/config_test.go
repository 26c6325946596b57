package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1.0.0", cfg.HostVersion)
	assert.Equal(t, 30*time.Second, cfg.Archive.Timeout)
	assert.Equal(t, int64(1<<20), cfg.Archive.MaxManifestSize)
	assert.Equal(t, 60*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.CheckTimeout)
	assert.Equal(t, 3, cfg.Health.FailureThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing host version",
			mutate:  func(c *Config) { c.HostVersion = "" },
			wantErr: "host_version",
		},
		{
			name:    "non-positive archive timeout",
			mutate:  func(c *Config) { c.Archive.Timeout = 0 },
			wantErr: "archive.timeout",
		},
		{
			name:    "non-positive manifest size",
			mutate:  func(c *Config) { c.Archive.MaxManifestSize = -1 },
			wantErr: "max_manifest_size",
		},
		{
			name:    "non-positive health interval",
			mutate:  func(c *Config) { c.Health.Interval = 0 },
			wantErr: "health.interval",
		},
		{
			name:    "non-positive check timeout",
			mutate:  func(c *Config) { c.Health.CheckTimeout = 0 },
			wantErr: "check_timeout",
		},
		{
			name: "check timeout not shorter than interval",
			mutate: func(c *Config) {
				c.Health.Interval = 5 * time.Second
				c.Health.CheckTimeout = 5 * time.Second
			},
			wantErr: "shorter than",
		},
		{
			name:    "non-positive failure threshold",
			mutate:  func(c *Config) { c.Health.FailureThreshold = 0 },
			wantErr: "failure_threshold",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
