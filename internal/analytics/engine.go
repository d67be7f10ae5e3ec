package analytics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// Engine runs the forecasting and anomaly pipeline. It holds only its
// configuration and is safe for concurrent use; every call recomputes from
// the observations it is given.
type Engine struct {
	logger   *logrus.Logger
	config   *EngineConfig
	registry *ForecasterRegistry
}

// StatisticsReport is the payload of the statistics action
type StatisticsReport struct {
	Diagnostics       []SeriesDiagnostics       `json:"diagnostics" yaml:"diagnostics"`
	DataQualityErrors []models.DataQualityError `json:"dataQualityErrors,omitempty" yaml:"data_quality_errors,omitempty"`
}

// NewEngine creates a new analytics engine. A nil config uses the defaults.
func NewEngine(config *EngineConfig, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if config == nil {
		config = NewDefaultEngineConfig()
	}

	return &Engine{
		logger:   logger,
		config:   config,
		registry: NewForecasterRegistry(),
	}
}

// Config returns the engine configuration
func (e *Engine) Config() *EngineConfig {
	return e.config
}

// Analyze runs the requested action over the observations. The request must
// already have defaults applied and be validated.
func (e *Engine) Analyze(ctx context.Context, req *models.AnalysisRequest, observations []models.Observation) (interface{}, error) {
	start := time.Now()

	series, err := BuildSeries(observations, req.Metrics)
	if err != nil {
		return nil, err
	}

	var result interface{}
	switch req.Action {
	case constants.ActionForecast:
		result, err = e.forecastAll(ctx, series, req)
	case constants.ActionInsights:
		result, err = e.insightsAll(ctx, series, req)
	case constants.ActionAnomalies:
		result, err = e.anomaliesAll(ctx, series)
	case constants.ActionBacktest:
		result, err = e.backtestAll(ctx, series, req)
	case constants.ActionStatistics:
		result, err = e.statisticsAll(ctx, series)
	default:
		return nil, errors.ErrValidationActionInvalid
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"action":       req.Action,
		"metrics":      len(series),
		"observations": len(observations),
		"duration":     time.Since(start),
	}).Debug("Analysis completed")

	return result, nil
}

func (e *Engine) forecastOptions(req *models.AnalysisRequest) ForecastOptions {
	return ForecastOptions{
		Horizon:         req.HorizonDays,
		ConfidenceLevel: req.ConfidenceLevel,
		Models:          req.Models,
	}
}

func (e *Engine) forecastAll(ctx context.Context, series []models.MetricSeries, req *models.AnalysisRequest) (*models.ForecastReport, error) {
	report := &models.ForecastReport{Forecasts: make([]models.BusinessMetricForecast, 0, len(series))}
	opts := e.forecastOptions(req)

	for i := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		forecast, err := e.ForecastSeries(&series[i], opts)
		if err != nil {
			dq, ok := dataQualityError(series[i].MetricName, err)
			if !ok {
				return nil, err
			}
			report.DataQualityErrors = append(report.DataQualityErrors, dq)
			continue
		}
		report.Forecasts = append(report.Forecasts, *forecast)
	}
	return report, nil
}

func (e *Engine) insightsAll(ctx context.Context, series []models.MetricSeries, req *models.AnalysisRequest) (*models.InsightsReport, error) {
	forecasts, err := e.forecastAll(ctx, series, req)
	if err != nil {
		return nil, err
	}

	report := &models.InsightsReport{
		Insights:          make([]models.MetricInsight, 0, len(forecasts.Forecasts)),
		DataQualityErrors: forecasts.DataQualityErrors,
	}
	for i := range forecasts.Forecasts {
		report.Insights = append(report.Insights, e.SynthesizeInsight(&forecasts.Forecasts[i]))
	}
	return report, nil
}

func (e *Engine) anomaliesAll(ctx context.Context, series []models.MetricSeries) (*models.AnomalyReport, error) {
	pooled := make([]models.AnomalyRecord, 0)
	for i := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pooled = append(pooled, e.DetectAnomalies(&series[i])...)
	}
	return BuildAnomalyReport(pooled), nil
}

// backtestAll reports metrics with too little history as data-quality errors.
// When no metric could be backtested the first such error is returned.
func (e *Engine) backtestAll(ctx context.Context, series []models.MetricSeries, req *models.AnalysisRequest) (*models.BacktestReport, error) {
	report := &models.BacktestReport{
		Results:        make([]models.BacktestResult, 0, len(series)),
		FoldsRequested: req.Validation.CrossValidationFolds,
	}
	opts := BacktestOptions{
		TrainTestSplit: req.Validation.TrainTestSplit,
		Models:         req.Models,
	}

	var firstErr error
	for i := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := e.Backtest(&series[i], opts)
		if err != nil {
			dq, ok := dataQualityError(series[i].MetricName, err)
			if !ok {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			report.DataQualityErrors = append(report.DataQualityErrors, dq)
			continue
		}
		report.Results = append(report.Results, *result)
	}

	if len(report.Results) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return report, nil
}

func (e *Engine) statisticsAll(ctx context.Context, series []models.MetricSeries) (*StatisticsReport, error) {
	report := &StatisticsReport{Diagnostics: make([]SeriesDiagnostics, 0, len(series))}
	for i := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		diag, err := e.Diagnose(&series[i])
		if err != nil {
			dq, ok := dataQualityError(series[i].MetricName, err)
			if !ok {
				return nil, err
			}
			report.DataQualityErrors = append(report.DataQualityErrors, dq)
			continue
		}
		report.Diagnostics = append(report.Diagnostics, *diag)
	}
	return report, nil
}

// dataQualityError converts insufficient-data and no-data errors into a
// report entry. Any other error is not a data-quality problem.
func dataQualityError(metric string, err error) (models.DataQualityError, bool) {
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Type != errors.ErrorTypeInsufficientData {
		return models.DataQualityError{}, false
	}

	dq := models.DataQualityError{
		Metric:  metric,
		Code:    appErr.Code,
		Message: appErr.Message,
	}
	if required, ok := appErr.Context["required"].(int); ok {
		dq.Required = required
	}
	if actual, ok := appErr.Context["actual"].(int); ok {
		dq.Actual = actual
	}
	return dq, true
}
