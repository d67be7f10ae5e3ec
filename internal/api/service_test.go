package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage/codec"
	"github.com/inferloop/tsforecast/internal/storage/implementations/file"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

func TestNewAnalysisServiceInvalidConfig(t *testing.T) {
	_, err := NewAnalysisService(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfiguration)
}

func TestAnalyzeInlineObservationsPublishesResult(t *testing.T) {
	sink := newFileStorage(t, t.TempDir())
	pm := newTestMetrics(t)
	service := newTestService(t, nil, sink, pm)

	req := &models.AnalysisRequest{
		Action:       constants.ActionForecast,
		Metrics:      []string{"revenue"},
		HorizonDays:  7,
		Observations: createObservations("revenue", linearValues(60, 100, 5)),
	}

	result, err := service.Analyze(context.Background(), "req-1", req)
	require.NoError(t, err)

	report, ok := result.(*models.ForecastReport)
	require.True(t, ok)
	require.Len(t, report.Forecasts, 1)
	assert.Len(t, report.Forecasts[0].Forecasts, 7)

	stored, err := service.LoadResult(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", stored.RequestID)
	assert.Equal(t, constants.ActionForecast, stored.Action)
	assert.Equal(t, []string{"revenue"}, stored.Metrics)

	var payload models.ForecastReport
	require.NoError(t, json.Unmarshal(stored.Payload, &payload))
	assert.Equal(t, "revenue", payload.Forecasts[0].Metric)

	count, err := testutil.GatherAndCount(pm.GetRegistry(), "test_server_analysis_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnalyzeFiltersInlineObservationsByExplicitDates(t *testing.T) {
	service := newTestService(t, nil, nil, nil)

	req := &models.AnalysisRequest{
		Action:       constants.ActionStatistics,
		Metrics:      []string{"revenue"},
		StartDate:    "2024-01-11",
		Observations: createObservations("revenue", linearValues(60, 100, 5)),
	}

	result, err := service.Analyze(context.Background(), "", req)
	require.NoError(t, err)

	report := result.(*analytics.StatisticsReport)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, 50, report.Diagnostics[0].Basic.Count)
}

func TestAnalyzeFetchesDefaultWindowFromSource(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "revenue.json", createObservations("revenue", linearValues(90, 100, 5)))

	source := newFileStorage(t, dir)
	service := newTestService(t, source, nil, nil)
	service.now = func() time.Time { return baseTime.AddDate(0, 0, 59) }

	req := &models.AnalysisRequest{Action: constants.ActionForecast, Metrics: []string{"revenue"}}
	result, err := service.Analyze(context.Background(), "", req)
	require.NoError(t, err)

	report := result.(*models.ForecastReport)
	require.Len(t, report.Forecasts, 1)
	// trailing 30 days inclusive of both ends
	assert.Equal(t, 31, report.Forecasts[0].DataPoints)
	assert.Equal(t, constants.DefaultHorizonDays, len(report.Forecasts[0].Forecasts))
}

func TestAnalyzeFetchesExplicitRangeFromSource(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "revenue.json", createObservations("revenue", linearValues(90, 100, 5)))

	service := newTestService(t, newFileStorage(t, dir), nil, nil)

	req := &models.AnalysisRequest{
		Action:    constants.ActionBacktest,
		Metrics:   []string{"revenue"},
		StartDate: "2024-01-01",
		EndDate:   "2024-03-30",
	}
	result, err := service.Analyze(context.Background(), "", req)
	require.NoError(t, err)

	report := result.(*models.BacktestReport)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 90, report.Results[0].TrainSize+report.Results[0].TestSize)
}

func TestAnalyzeWithoutObservationsOrSource(t *testing.T) {
	service := newTestService(t, nil, nil, nil)

	_, err := service.Analyze(context.Background(), "", &models.AnalysisRequest{})
	require.Error(t, err)
	assert.Equal(t, 400, errors.GetHTTPStatus(err))
}

func TestAnalyzeRejectsInvalidRequests(t *testing.T) {
	pm := newTestMetrics(t)
	service := newTestService(t, nil, nil, pm)

	tests := []struct {
		name string
		req  *models.AnalysisRequest
	}{
		{"nil request", nil},
		{"unknown action", &models.AnalysisRequest{Action: "explain"}},
		{"horizon too long", &models.AnalysisRequest{HorizonDays: 400}},
		{"confidence too low", &models.AnalysisRequest{ConfidenceLevel: 0.5}},
		{"split too high", &models.AnalysisRequest{Validation: models.ValidationOptions{TrainTestSplit: 0.95}}},
		{"inverted dates", &models.AnalysisRequest{StartDate: "2024-02-01", EndDate: "2024-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Analyze(context.Background(), "", tt.req)
			require.Error(t, err)
			assert.Equal(t, 400, errors.GetHTTPStatus(err))
		})
	}
}

func TestAnalyzeBacktestWithTooLittleHistory(t *testing.T) {
	service := newTestService(t, nil, nil, nil)

	req := &models.AnalysisRequest{
		Action:       constants.ActionBacktest,
		Metrics:      []string{"revenue"},
		Observations: createObservations("revenue", linearValues(30, 100, 5)),
	}
	_, err := service.Analyze(context.Background(), "", req)
	require.Error(t, err)
	assert.Equal(t, 422, errors.GetHTTPStatus(err))
}

func TestAnalyzeSinkFailureDoesNotFailRequest(t *testing.T) {
	pm := newTestMetrics(t)
	service := newTestService(t, nil, &failingSink{}, pm)

	req := &models.AnalysisRequest{
		Action:       constants.ActionAnomalies,
		Metrics:      []string{"revenue"},
		Observations: createObservations("revenue", spikeValues(40, 100, 25, 400)),
	}
	result, err := service.Analyze(context.Background(), "req-2", req)
	require.NoError(t, err)

	report := result.(*models.AnomalyReport)
	assert.NotEmpty(t, report.All)

	failures, err := testutil.GatherAndCount(pm.GetRegistry(), "test_server_sink_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	anomalies, err := testutil.GatherAndCount(pm.GetRegistry(), "test_server_anomalies_detected_total")
	require.NoError(t, err)
	assert.Positive(t, anomalies)
}

func TestLoadResultWithoutSink(t *testing.T) {
	service := newTestService(t, nil, nil, nil)

	_, err := service.LoadResult(context.Background(), "req-1")
	require.Error(t, err)
	assert.Equal(t, 404, errorStatus(err))
}

func TestRegisterHealthChecks(t *testing.T) {
	service := newTestService(t, newFileStorage(t, t.TempDir()), &failingSink{}, nil)
	monitor := health.NewHealthMonitor(nil, logrus.New())
	service.RegisterHealthChecks(monitor)

	status := monitor.Check(context.Background())
	assert.Equal(t, health.StatusDegraded, status.OverallStatus)
	assert.Equal(t, health.StatusHealthy, status.CheckResults["source:file"].Status)
	assert.Equal(t, health.StatusUnhealthy, status.CheckResults["sink:failing"].Status)
}

func TestRegisterHealthChecksReportsStats(t *testing.T) {
	sink := &countingSink{}
	service := newTestService(t, newFileStorage(t, t.TempDir()), sink, nil)
	monitor := health.NewHealthMonitor(nil, logrus.New())
	service.RegisterHealthChecks(monitor)

	req := &models.AnalysisRequest{
		Action:       constants.ActionStatistics,
		Metrics:      []string{"revenue"},
		Observations: createObservations("revenue", linearValues(30, 100, 1)),
	}
	_, err := service.Analyze(context.Background(), "req-1", req)
	require.NoError(t, err)

	status := monitor.Check(context.Background())
	assert.Equal(t, health.StatusHealthy, status.OverallStatus)
	assert.Equal(t, map[string]interface{}{"write_ops": 1}, status.CheckResults["sink:counting"].Details)
	assert.Nil(t, status.CheckResults["source:file"].Details)
}

func TestAnalyzePanicHidesPanicValue(t *testing.T) {
	service := newTestService(t, &panickingSource{}, nil, nil)

	req := &models.AnalysisRequest{Action: constants.ActionStatistics, Metrics: []string{"revenue"}}
	result, err := service.Analyze(context.Background(), "req-1", req)
	require.Error(t, err)
	assert.Nil(t, result)

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, "analysis failed", appErr.Message)
	assert.Equal(t, 500, appErr.HTTPStatus)
	assert.NotContains(t, err.Error(), "postgres://")
}

// panickingSource panics with a value that must not reach clients
type panickingSource struct{}

func (p *panickingSource) Connect(ctx context.Context) error { return nil }
func (p *panickingSource) Close() error                      { return nil }
func (p *panickingSource) Name() string                      { return "panicking" }
func (p *panickingSource) Ping(ctx context.Context) error    { return nil }

func (p *panickingSource) Fetch(ctx context.Context, query *interfaces.ObservationQuery) ([]models.Observation, error) {
	panic("dial postgres://analyst:secret@db/bi failed")
}

// countingSink accepts writes and counts them
type countingSink struct {
	mu     sync.Mutex
	writes int
}

func (c *countingSink) Connect(ctx context.Context) error { return nil }
func (c *countingSink) Close() error                      { return nil }
func (c *countingSink) Name() string                      { return "counting" }
func (c *countingSink) Ping(ctx context.Context) error    { return nil }

func (c *countingSink) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return nil
}

func (c *countingSink) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	return nil, errors.NewStorageError("NOT_FOUND", "not stored")
}

func (c *countingSink) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{"write_ops": c.writes}
}

// failingSink rejects every write
type failingSink struct{}

func (f *failingSink) Connect(ctx context.Context) error { return nil }
func (f *failingSink) Close() error                      { return nil }
func (f *failingSink) Name() string                      { return "failing" }

func (f *failingSink) Ping(ctx context.Context) error {
	return errors.NewStorageError("NOT_CONNECTED", "sink unavailable")
}

func (f *failingSink) Store(ctx context.Context, key string, result *interfaces.StoredResult) error {
	return errors.NewStorageError(errors.CodeWriteFailed, "sink unavailable")
}

func (f *failingSink) Load(ctx context.Context, key string) (*interfaces.StoredResult, error) {
	return nil, errors.NewStorageError("NOT_FOUND", "sink unavailable")
}

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, source interfaces.ObservationSource, sink interfaces.ResultSink, pm *metrics.PrometheusMetrics) *AnalysisService {
	t.Helper()
	service, err := NewAnalysisService(&ServiceConfig{
		Source:  source,
		Sink:    sink,
		Metrics: pm,
		Logger:  logrus.New(),
	})
	require.NoError(t, err)
	return service
}

func newTestMetrics(t *testing.T) *metrics.PrometheusMetrics {
	t.Helper()
	config := metrics.DefaultPrometheusConfig()
	config.Namespace = "test"
	pm, err := metrics.NewPrometheusMetrics(config, logrus.New())
	require.NoError(t, err)
	return pm
}

func newFileStorage(t *testing.T, dir string) *file.FileStorage {
	t.Helper()
	storage, err := file.NewFileStorage(&file.FileStorageConfig{BasePath: dir}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	t.Cleanup(func() { storage.Close() })
	return storage
}

func writeExport(t *testing.T, dir, name string, observations []models.Observation) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, codec.EncodeObservations(f, observations, codec.FormatFromPath(name)))
}

func createObservations(category string, values []float64) []models.Observation {
	observations := make([]models.Observation, len(values))
	for i, v := range values {
		observations[i] = models.Observation{
			Timestamp: baseTime.AddDate(0, 0, i),
			Value:     v,
			Category:  category,
		}
	}
	return observations
}

func linearValues(n int, intercept, slope float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = intercept + slope*float64(i)
	}
	return values
}

// spikeValues is a gently alternating series with one spike
func spikeValues(n int, base float64, at int, spike float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = base + float64(i%3)
	}
	values[at] = spike
	return values
}
