package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// MonitorConfig configures the health monitor.
type MonitorConfig struct {
	// Interval between sweeps over the ACTIVE plugins.
	Interval time.Duration
	// FailureThreshold is the consecutive-failure count that marks a plugin
	// errored.
	FailureThreshold int
}

// DefaultMonitorConfig returns the default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         60 * time.Second,
		FailureThreshold: 3,
	}
}

// Monitor periodically checks the health of ACTIVE plugins. A check that
// times out or reports unhealthy increments a per-plugin consecutive-failure
// counter; at the threshold the plugin is marked errored. A single healthy
// check resets the counter to zero.
type Monitor struct {
	logger    zerolog.Logger
	engine    *Engine
	cfg       MonitorConfig
	scheduler *cron.Cron

	mu       sync.Mutex
	failures map[string]int
}

// NewMonitor creates a health monitor for the engine.
func NewMonitor(logger zerolog.Logger, engine *Engine, cfg MonitorConfig) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	return &Monitor{
		logger:   logger.With().Str("component", "health-monitor").Logger(),
		engine:   engine,
		cfg:      cfg,
		failures: make(map[string]int),
	}
}

// Start begins the periodic sweep.
func (m *Monitor) Start() error {
	if m.scheduler != nil {
		return fmt.Errorf("health monitor already started")
	}
	m.scheduler = cron.New()
	if _, err := m.scheduler.AddFunc(fmt.Sprintf("@every %s", m.cfg.Interval), func() {
		m.Sweep(context.Background())
	}); err != nil {
		m.scheduler = nil
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}
	m.scheduler.Start()
	m.logger.Info().Dur("interval", m.cfg.Interval).Int("threshold", m.cfg.FailureThreshold).Msg("Health monitor started")
	return nil
}

// Stop halts the periodic sweep. Sweeps already in flight run to completion.
func (m *Monitor) Stop() {
	if m.scheduler == nil {
		return
	}
	ctx := m.scheduler.Stop()
	<-ctx.Done()
	m.scheduler = nil
	m.logger.Info().Msg("Health monitor stopped")
}

// Sweep checks every ACTIVE plugin once and applies the failure policy.
// Exposed so a host can trigger a sweep outside the schedule.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, slug := range m.engine.ActiveSlugs() {
		m.checkOne(ctx, slug)
	}
}

func (m *Monitor) checkOne(ctx context.Context, slug string) {
	report, err := m.engine.RunHealthCheck(ctx, slug)
	if err != nil {
		// Deactivated or uninstalled since the sweep began; forget it.
		m.resetFailures(slug)
		return
	}

	if report.Healthy {
		m.resetFailures(slug)
		return
	}

	count := m.bumpFailures(slug)
	m.logger.Warn().
		Str("slug", slug).
		Int("consecutive_failures", count).
		Strs("issues", report.Issues).
		Msg("Plugin health check failed")

	if count < m.cfg.FailureThreshold {
		return
	}

	reason := fmt.Sprintf("health check failed %d consecutive times", count)
	if len(report.Issues) > 0 {
		reason += ": " + strings.Join(report.Issues, "; ")
	}
	if err := m.engine.MarkError(ctx, slug, reason); err != nil {
		m.logger.Error().Err(err).Str("slug", slug).Msg("Failed to mark plugin errored")
		return
	}
	m.resetFailures(slug)
}

// Failures returns the current consecutive-failure count for slug.
func (m *Monitor) Failures(slug string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[slug]
}

func (m *Monitor) bumpFailures(slug string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[slug]++
	return m.failures[slug]
}

func (m *Monitor) resetFailures(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, slug)
}
