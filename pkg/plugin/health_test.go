package plugin

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monitorFixture(t *testing.T, threshold int) (*Monitor, *Engine, *stubChecker) {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	checker := &stubChecker{healthy: true}
	engine, err := NewEngine(logger, EngineConfig{}, Collaborators{
		Blobs:   NewMemoryBlobStore(),
		Records: NewMemoryRecordStore(),
		Health:  checker,
	}, nil)
	require.NoError(t, err)
	monitor := NewMonitor(logger, engine, MonitorConfig{FailureThreshold: threshold})
	return monitor, engine, checker
}

func TestMonitor_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy plugins accumulate no failures", func(t *testing.T) {
		monitor, engine, _ := monitorFixture(t, 3)
		mustInstall(t, engine, simpleManifest("seo", "1.0.0"))
		mustActivate(t, engine, "seo")

		monitor.Sweep(ctx)
		monitor.Sweep(ctx)

		assert.Zero(t, monitor.Failures("seo"))
		assert.Equal(t, StatusActive, pluginStatus(t, engine, "seo"))
	})

	t.Run("threshold consecutive failures mark the plugin errored", func(t *testing.T) {
		monitor, engine, checker := monitorFixture(t, 3)
		m := simpleManifest("seo", "1.0.0")
		m.Hooks = []string{"post_publish"}
		mustInstall(t, engine, m)
		mustActivate(t, engine, "seo")
		checker.set(false, []string{"db unreachable"}, nil)

		monitor.Sweep(ctx)
		monitor.Sweep(ctx)
		assert.Equal(t, 2, monitor.Failures("seo"))
		assert.Equal(t, StatusActive, pluginStatus(t, engine, "seo"))

		monitor.Sweep(ctx)

		p, _ := engine.Get("seo")
		assert.Equal(t, StatusError, p.Status)
		assert.Contains(t, p.ErrorMessage, "3 consecutive times")
		assert.Contains(t, p.ErrorMessage, "db unreachable")
		// Extension points are unwired along with the error transition.
		points, _ := engine.ListExtensionPoints("seo")
		assert.Empty(t, points.Hooks)
		// Counter resets once the plugin is errored.
		assert.Zero(t, monitor.Failures("seo"))
	})

	t.Run("errored plugins are skipped by later sweeps", func(t *testing.T) {
		monitor, engine, checker := monitorFixture(t, 2)
		mustInstall(t, engine, simpleManifest("seo", "1.0.0"))
		mustActivate(t, engine, "seo")
		checker.set(false, nil, nil)

		monitor.Sweep(ctx)
		monitor.Sweep(ctx)
		require.Equal(t, StatusError, pluginStatus(t, engine, "seo"))
		p, _ := engine.Get("seo")
		countAfterError := p.ErrorCount

		monitor.Sweep(ctx)

		p, _ = engine.Get("seo")
		assert.Equal(t, countAfterError, p.ErrorCount)
		assert.Zero(t, monitor.Failures("seo"))
	})

	t.Run("a healthy check resets the counter", func(t *testing.T) {
		monitor, engine, checker := monitorFixture(t, 3)
		mustInstall(t, engine, simpleManifest("seo", "1.0.0"))
		mustActivate(t, engine, "seo")

		checker.set(false, nil, nil)
		monitor.Sweep(ctx)
		monitor.Sweep(ctx)
		require.Equal(t, 2, monitor.Failures("seo"))

		checker.set(true, nil, nil)
		monitor.Sweep(ctx)
		assert.Zero(t, monitor.Failures("seo"))

		// Failing again starts the count from scratch.
		checker.set(false, nil, nil)
		monitor.Sweep(ctx)
		monitor.Sweep(ctx)
		assert.Equal(t, StatusActive, pluginStatus(t, engine, "seo"))
	})

	t.Run("checker errors count as failures", func(t *testing.T) {
		monitor, engine, checker := monitorFixture(t, 2)
		mustInstall(t, engine, simpleManifest("seo", "1.0.0"))
		mustActivate(t, engine, "seo")
		checker.set(false, nil, errors.New("timeout"))

		monitor.Sweep(ctx)
		monitor.Sweep(ctx)

		assert.Equal(t, StatusError, pluginStatus(t, engine, "seo"))
	})

	t.Run("failures are tracked per plugin", func(t *testing.T) {
		monitor, engine, checker := monitorFixture(t, 3)
		mustInstall(t, engine, simpleManifest("aaa", "1.0.0"))
		mustInstall(t, engine, simpleManifest("bbb", "1.0.0"))
		mustActivate(t, engine, "aaa")
		mustActivate(t, engine, "bbb")
		checker.set(false, nil, nil)

		monitor.Sweep(ctx)

		assert.Equal(t, 1, monitor.Failures("aaa"))
		assert.Equal(t, 1, monitor.Failures("bbb"))
	})
}

func TestMonitor_StartStop(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	engine, err := NewEngine(logger, EngineConfig{}, Collaborators{
		Blobs:   NewMemoryBlobStore(),
		Records: NewMemoryRecordStore(),
	}, nil)
	require.NoError(t, err)

	monitor := NewMonitor(logger, engine, MonitorConfig{Interval: time.Hour})

	require.NoError(t, monitor.Start())
	assert.Error(t, monitor.Start()) // double start

	monitor.Stop()
	monitor.Stop() // idempotent

	// Restart after stop works.
	require.NoError(t, monitor.Start())
	monitor.Stop()
}

func TestDefaultMonitorConfig(t *testing.T) {
	cfg := DefaultMonitorConfig()
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 3, cfg.FailureThreshold)

	// Zero-valued config falls back to defaults.
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	m := NewMonitor(logger, nil, MonitorConfig{})
	assert.Equal(t, 60*time.Second, m.cfg.Interval)
	assert.Equal(t, 3, m.cfg.FailureThreshold)
}
