package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveOperation(t *testing.T) {
	m := NewMetrics()

	m.ObserveOperation("install", true, 10*time.Millisecond)
	m.ObserveOperation("install", true, 20*time.Millisecond)
	m.ObserveOperation("install", false, 5*time.Millisecond)
	m.ObserveOperation("activate", true, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OperationsTotal.WithLabelValues("install", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationsTotal.WithLabelValues("install", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OperationsTotal.WithLabelValues("activate", "success")))
}

func TestMetrics_SetActivePlugins(t *testing.T) {
	m := NewMetrics()

	m.SetActivePlugins(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ActivePlugins))

	m.SetActivePlugins(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActivePlugins))
}

func TestMetrics_IncHealthCheckFailure(t *testing.T) {
	m := NewMetrics()

	m.IncHealthCheckFailure()
	m.IncHealthCheckFailure()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HealthCheckFailures))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveOperation("install", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "plugin_operations_total")
	assert.Contains(t, body, "plugin_operation_duration_seconds")
}
