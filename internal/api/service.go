package api

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/internal/analytics"
	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/interfaces"
	"github.com/inferloop/tsforecast/pkg/models"
)

// ServiceConfig wires the analysis service. Source, Sink and Metrics are
// optional.
type ServiceConfig struct {
	Engine  *analytics.Engine
	Source  interfaces.ObservationSource
	Sink    interfaces.ResultSink
	Metrics *metrics.PrometheusMetrics
	Logger  *logrus.Logger
}

// AnalysisService resolves a request's observations, runs the engine and
// publishes the result.
type AnalysisService struct {
	engine  *analytics.Engine
	source  interfaces.ObservationSource
	sink    interfaces.ResultSink
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Logger
	now     func() time.Time
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(config *ServiceConfig) (*AnalysisService, error) {
	if config == nil {
		return nil, errors.NewConfigurationError(errors.CodeInvalidConfig, "Service config cannot be nil")
	}

	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}

	engine := config.Engine
	if engine == nil {
		engine = analytics.NewEngine(nil, logger)
	}

	return &AnalysisService{
		engine:  engine,
		source:  config.Source,
		sink:    config.Sink,
		metrics: config.Metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Analyze applies defaults, validates the request, loads its observations
// and runs the action. The result is published to the sink when one is
// configured; publishing failures never fail the request.
func (s *AnalysisService) Analyze(ctx context.Context, requestID string, req *models.AnalysisRequest) (result interface{}, err error) {
	if req == nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "request body is required")
	}

	analytics.ApplyDefaults(req)
	if err := analytics.ValidateRequest(req); err != nil {
		s.recordAnalysis(req.Action, err, 0)
		return nil, err
	}

	start := time.Now()
	if s.metrics != nil {
		s.metrics.IncActiveAnalyses()
		defer s.metrics.DecActiveAnalyses()
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"action":     req.Action,
				"panic":      r,
				"stack":      string(debug.Stack()),
			}).Error("Analysis panicked")
			result = nil
			err = errors.NewInternalError("analysis failed")
		}
		s.recordAnalysis(req.Action, err, time.Since(start))
	}()

	observations, err := s.observations(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err = s.engine.Analyze(ctx, req, observations)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"action":     req.Action,
			"error":      err,
		}).Warn("Analysis failed")
		return nil, err
	}

	s.recordResult(req, result)
	s.publish(ctx, requestID, req, result)

	s.logger.WithFields(logrus.Fields{
		"request_id":   requestID,
		"action":       req.Action,
		"metrics":      req.Metrics,
		"observations": len(observations),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Analysis completed")

	return result, nil
}

// LoadResult returns a result previously published to the sink
func (s *AnalysisService) LoadResult(ctx context.Context, requestID string) (*interfaces.StoredResult, error) {
	if s.sink == nil {
		return nil, errors.NewStorageError("NOT_FOUND", "No result sink is configured")
	}

	start := time.Now()
	stored, err := s.sink.Load(ctx, requestID)
	s.recordStorage(s.sink.Name(), "load", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// RegisterHealthChecks adds the source as a critical check and the sink as
// a non-critical one. Backends that count their operations report the
// counters in the check details.
func (s *AnalysisService) RegisterHealthChecks(monitor *health.HealthMonitor) {
	if s.source != nil {
		registerBackendCheck(monitor, "source:"+s.source.Name(), true, s.source)
	}
	if s.sink != nil {
		registerBackendCheck(monitor, "sink:"+s.sink.Name(), false, s.sink)
	}
}

func registerBackendCheck(monitor *health.HealthMonitor, name string, critical bool, backend interfaces.Storage) {
	reporter, ok := backend.(interfaces.StatsReporter)
	if !ok {
		monitor.RegisterCheck(name, critical, backend.Ping)
		return
	}
	monitor.RegisterCheckWithDetails(name, critical, backend.Ping, reporter.Stats)
}

// Engine returns the analytics engine
func (s *AnalysisService) Engine() *analytics.Engine {
	return s.engine
}

// observations returns the inline observations, filtered by any explicit
// dates, or fetches the resolved window from the source.
func (s *AnalysisService) observations(ctx context.Context, req *models.AnalysisRequest) ([]models.Observation, error) {
	if len(req.Observations) > constants.MaxObservations {
		return nil, errors.NewValidationError(errors.CodeOutOfRange,
			fmt.Sprintf("at most %d observations are accepted per request", constants.MaxObservations))
	}

	if len(req.Observations) > 0 {
		tr, err := analytics.ExplicitTimeRange(req)
		if err != nil {
			return nil, err
		}
		observations := analytics.FilterRange(req.Observations, tr)
		s.recordObservations("inline", len(observations))
		return observations, nil
	}

	if s.source == nil {
		return nil, errors.NewValidationError(errors.CodeMissingField,
			"observations are required when no observation source is configured")
	}

	tr, err := analytics.ResolveTimeRange(req, s.now(), s.engine.Config().DefaultLookbackDays)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	observations, err := s.source.Fetch(ctx, &interfaces.ObservationQuery{
		Metrics:   req.Metrics,
		TimeRange: *tr,
	})
	s.recordStorage(s.source.Name(), "fetch", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	s.recordObservations(s.source.Name(), len(observations))
	return observations, nil
}

func (s *AnalysisService) publish(ctx context.Context, requestID string, req *models.AnalysisRequest, result interface{}) {
	if s.sink == nil || requestID == "" {
		return
	}

	logger := s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"sink":       s.sink.Name(),
	})

	payload, err := json.Marshal(result)
	if err != nil {
		logger.WithError(err).Warn("Failed to encode result for sink")
		s.recordSinkFailure()
		return
	}

	stored := &interfaces.StoredResult{
		RequestID: requestID,
		Action:    req.Action,
		Metrics:   req.Metrics,
		CreatedAt: s.now().UTC(),
		Payload:   payload,
	}

	start := time.Now()
	err = s.sink.Store(ctx, requestID, stored)
	s.recordStorage(s.sink.Name(), "store", err, time.Since(start))
	if err != nil {
		logger.WithError(err).Warn("Failed to publish result")
		s.recordSinkFailure()
		return
	}

	logger.Debug("Result published")
}

func (s *AnalysisService) recordResult(req *models.AnalysisRequest, result interface{}) {
	if s.metrics == nil {
		return
	}

	var dataQuality []models.DataQualityError
	var anomalies []models.AnomalyRecord

	switch report := result.(type) {
	case *models.ForecastReport:
		dataQuality = report.DataQualityErrors
		for _, forecast := range report.Forecasts {
			anomalies = append(anomalies, forecast.Anomalies...)
		}
	case *models.InsightsReport:
		dataQuality = report.DataQualityErrors
	case *models.AnomalyReport:
		anomalies = report.All
	case *models.BacktestReport:
		dataQuality = report.DataQualityErrors
		model := modelLabel(req.Models)
		for _, backtest := range report.Results {
			s.metrics.SetForecastAccuracy(backtest.Metric, model, backtest.MAPE)
		}
	case *analytics.StatisticsReport:
		dataQuality = report.DataQualityErrors
	}

	for _, dq := range dataQuality {
		s.metrics.RecordDataQualityError(dq.Metric, dq.Code)
	}

	counts := make(map[[2]string]int)
	for _, anomaly := range anomalies {
		counts[[2]string{anomaly.Metric, anomaly.Bucket}]++
	}
	for key, count := range counts {
		s.metrics.RecordAnomalies(key[0], key[1], count)
	}
}

// modelLabel names the forecasting configuration for accuracy gauges
func modelLabel(flags models.ModelFlags) string {
	if flags.EnsembleEnabled() {
		return "ensemble"
	}
	return "single"
}

func (s *AnalysisService) recordAnalysis(action string, err error, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAnalysis(action, statusLabel(err), duration)
}

func (s *AnalysisService) recordObservations(origin string, count int) {
	if s.metrics != nil {
		s.metrics.RecordObservations(origin, count)
	}
}

func (s *AnalysisService) recordStorage(backend, operation string, err error, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordStorageOperation(backend, operation, statusLabel(err), duration)
	}
}

func (s *AnalysisService) recordSinkFailure() {
	if s.metrics != nil {
		s.metrics.RecordSinkFailure(s.sink.Name())
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
