// Package metrics exposes Prometheus metrics for the plugin engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the plugin engine. It implements
// the engine's Metrics interface.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal     *prometheus.CounterVec
	OperationDuration   *prometheus.HistogramVec
	ActivePlugins       prometheus.Gauge
	HealthCheckFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plugin_operations_total",
				Help: "Total number of plugin lifecycle operations",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plugin_operation_duration_seconds",
				Help:    "Duration of plugin lifecycle operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ActivePlugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "plugin_active_total",
				Help: "Number of plugins currently active",
			},
		),
		HealthCheckFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "plugin_health_check_failures_total",
				Help: "Total number of failed plugin health checks",
			},
		),
	}

	registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.ActivePlugins,
		m.HealthCheckFailures,
	)

	return m
}

// ObserveOperation records the outcome and duration of a lifecycle operation.
func (m *Metrics) ObserveOperation(op string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetActivePlugins records the current number of active plugins.
func (m *Metrics) SetActivePlugins(n int) {
	m.ActivePlugins.Set(float64(n))
}

// IncHealthCheckFailure counts a failed plugin health check.
func (m *Metrics) IncHealthCheckFailure() {
	m.HealthCheckFailures.Inc()
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
