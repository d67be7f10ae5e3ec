package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusMetricsDefaults(t *testing.T) {
	pm, err := NewPrometheusMetrics(nil, logrus.New())
	require.NoError(t, err)

	config := pm.GetConfig()
	assert.True(t, config.Enabled)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, "/metrics", config.Path)
	assert.Equal(t, "tsforecast", config.Namespace)
}

func TestPrometheusMetricsIndependentRegistries(t *testing.T) {
	_, err := NewPrometheusMetrics(nil, nil)
	require.NoError(t, err)
	_, err = NewPrometheusMetrics(nil, nil)
	require.NoError(t, err)
}

func TestRecordAnalysis(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordAnalysis("forecast", "success", 20*time.Millisecond)
	pm.RecordAnalysis("forecast", "success", 30*time.Millisecond)
	pm.RecordAnalysis("backtest", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.analysisRequestsTotal.WithLabelValues("forecast", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.analysisRequestsTotal.WithLabelValues("backtest", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.analysisDuration))
}

func TestRecordAnomaliesAndDataQuality(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordAnomalies("revenue", "critical", 2)
	pm.RecordAnomalies("revenue", "low", 0)
	pm.RecordDataQualityError("orders", "INSUFFICIENT_DATA")

	assert.Equal(t, 2.0, testutil.ToFloat64(pm.anomaliesDetected.WithLabelValues("revenue", "critical")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.anomaliesDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.dataQualityErrors.WithLabelValues("orders", "INSUFFICIENT_DATA")))
}

func TestActiveAnalysesGauge(t *testing.T) {
	pm := newTestMetrics(t)

	pm.IncActiveAnalyses()
	pm.IncActiveAnalyses()
	pm.DecActiveAnalyses()

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.analysisActive))
}

func TestStorageMetrics(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordStorageOperation("redis", "store", "success", time.Millisecond)
	pm.RecordSinkFailure("redis")
	pm.SetForecastAccuracy("revenue", "ensemble", 4.2)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.storageOperationsTotal.WithLabelValues("redis", "store", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.sinkFailuresTotal.WithLabelValues("redis")))
	assert.Equal(t, 4.2, testutil.ToFloat64(pm.forecastAccuracy.WithLabelValues("revenue", "ensemble")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordHTTPRequest("POST", "/api/v1/analytics/forecast", "200", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_server_http_requests_total{method="POST",route="/api/v1/analytics/forecast",status="200"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStartDisabled(t *testing.T) {
	pm, err := NewPrometheusMetrics(&PrometheusConfig{Enabled: false}, logrus.New())
	require.NoError(t, err)

	require.NoError(t, pm.Start(t.Context()))
	assert.NoError(t, pm.Stop(t.Context()))
}

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	pm, err := NewPrometheusMetrics(&PrometheusConfig{
		Enabled:   true,
		Port:      0,
		Path:      "/metrics",
		Namespace: "test",
		Subsystem: "server",
	}, logrus.New())
	require.NoError(t, err)
	return pm
}
