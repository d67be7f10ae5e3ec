package models

import "time"

// ModelFlags toggles the forecasting sub-models. A nil flag means enabled.
type ModelFlags struct {
	Arima            *bool `json:"arima,omitempty" yaml:"arima,omitempty"`
	Exponential      *bool `json:"exponential,omitempty" yaml:"exponential,omitempty"`
	Ensemble         *bool `json:"ensemble,omitempty" yaml:"ensemble,omitempty"`
	AnomalyDetection *bool `json:"anomalyDetection,omitempty" yaml:"anomaly_detection,omitempty"`
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// ArimaEnabled reports whether the autoregressive sub-model runs
func (f ModelFlags) ArimaEnabled() bool { return enabled(f.Arima) }

// ExponentialEnabled reports whether the exponential smoothing sub-model runs
func (f ModelFlags) ExponentialEnabled() bool { return enabled(f.Exponential) }

// EnsembleEnabled reports whether sub-model outputs are blended
func (f ModelFlags) EnsembleEnabled() bool { return enabled(f.Ensemble) }

// AnomalyDetectionEnabled reports whether anomalies are attached to forecasts
func (f ModelFlags) AnomalyDetectionEnabled() bool { return enabled(f.AnomalyDetection) }

// Bool returns a pointer to b, for building ModelFlags literals.
func Bool(b bool) *bool {
	return &b
}

// ValidationOptions configures the backtest
type ValidationOptions struct {
	TrainTestSplit float64 `json:"trainTestSplit,omitempty" yaml:"train_test_split,omitempty"`
	// CrossValidationFolds is validated but reserved: backtests run a single split.
	CrossValidationFolds int `json:"crossValidationFolds,omitempty" yaml:"cross_validation_folds,omitempty"`
}

// AnalysisRequest is the parsed input of one analysis call. Zero values
// are replaced by defaults before validation.
type AnalysisRequest struct {
	Action          string            `json:"action" yaml:"action"`
	Metrics         []string          `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	HorizonDays     int               `json:"horizonDays,omitempty" yaml:"horizon_days,omitempty"`
	ConfidenceLevel float64           `json:"confidenceLevel,omitempty" yaml:"confidence_level,omitempty"`
	Models          ModelFlags        `json:"models" yaml:"models"`
	Validation      ValidationOptions `json:"validation" yaml:"validation"`
	StartDate       string            `json:"startDate,omitempty" yaml:"start_date,omitempty"`
	EndDate         string            `json:"endDate,omitempty" yaml:"end_date,omitempty"`
	Observations    []Observation     `json:"observations,omitempty" yaml:"observations,omitempty"`
}

// TimeRange is a resolved, inclusive observation window
type TimeRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Contains reports whether t lies within the range
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && !t.After(tr.End)
}

// DataQualityError records a metric that was skipped and why
type DataQualityError struct {
	Metric   string `json:"metric" yaml:"metric"`
	Code     string `json:"code" yaml:"code"`
	Message  string `json:"message" yaml:"message"`
	Required int    `json:"required,omitempty" yaml:"required,omitempty"`
	Actual   int    `json:"actual" yaml:"actual"`
}

// ForecastReport is the payload of the forecast action
type ForecastReport struct {
	Forecasts         []BusinessMetricForecast `json:"forecasts" yaml:"forecasts"`
	DataQualityErrors []DataQualityError       `json:"dataQualityErrors,omitempty" yaml:"data_quality_errors,omitempty"`
}

// InsightsReport is the payload of the insights action
type InsightsReport struct {
	Insights          []MetricInsight    `json:"insights" yaml:"insights"`
	DataQualityErrors []DataQualityError `json:"dataQualityErrors,omitempty" yaml:"data_quality_errors,omitempty"`
}

// BacktestReport is the payload of the backtest action
type BacktestReport struct {
	Results []BacktestResult `json:"results" yaml:"results"`
	// FoldsRequested echoes the reserved crossValidationFolds parameter.
	FoldsRequested    int                `json:"foldsRequested" yaml:"folds_requested"`
	DataQualityErrors []DataQualityError `json:"dataQualityErrors,omitempty" yaml:"data_quality_errors,omitempty"`
}

// AnalysisResponse wraps every action's payload
type AnalysisResponse struct {
	Success   bool        `json:"success" yaml:"success"`
	Action    string      `json:"action,omitempty" yaml:"action,omitempty"`
	RequestID string      `json:"requestId,omitempty" yaml:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	Error     string      `json:"error,omitempty" yaml:"error,omitempty"`
	Details   interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}
