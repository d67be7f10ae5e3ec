package models

import "time"

// ForecastPoint is one future step of an ensemble forecast
type ForecastPoint struct {
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	PredictedValue  float64   `json:"predicted_value" yaml:"predicted_value"`
	ConfidenceLower float64   `json:"confidence_lower" yaml:"confidence_lower"`
	ConfidenceUpper float64   `json:"confidence_upper" yaml:"confidence_upper"`
	ConfidenceScore float64   `json:"confidence_score" yaml:"confidence_score"` // 0-1, non-increasing with horizon
}

// AnomalyRecord is an observation that deviated from its rolling expectation
type AnomalyRecord struct {
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Metric        string    `json:"metric" yaml:"metric"`
	Severity      float64   `json:"severity" yaml:"severity"` // 0-10
	ObservedValue float64   `json:"observed_value" yaml:"observed_value"`
	ExpectedValue float64   `json:"expected_value" yaml:"expected_value"`
	ZScore        float64   `json:"z_score" yaml:"z_score"`
	Bucket        string    `json:"bucket" yaml:"bucket"` // "critical", "high", "medium", "low"
	Index         int       `json:"index" yaml:"index"`
}

// Severity buckets
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityBuckets lists buckets from most to least severe
var SeverityBuckets = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ModelPerformance holds in-sample fit quality
type ModelPerformance struct {
	RSquared float64 `json:"r_squared" yaml:"r_squared"`
	MAE      float64 `json:"mae" yaml:"mae"`
	RMSE     float64 `json:"rmse" yaml:"rmse"`
	MAPE     float64 `json:"mape" yaml:"mape"` // percent
}

// Trend labels reported in forecast insights
const (
	TrendUpward   = "upward"
	TrendDownward = "downward"
	TrendStable   = "stable"
)

// Volatility levels
const (
	VolatilityLow    = "low"
	VolatilityMedium = "medium"
	VolatilityHigh   = "high"
)

// ForecastInsights summarises the diagnostics that shaped a forecast
type ForecastInsights struct {
	Trend               string `json:"trend" yaml:"trend"`
	SeasonalityDetected bool   `json:"seasonality_detected" yaml:"seasonality_detected"`
	VolatilityLevel     string `json:"volatility_level" yaml:"volatility_level"`
}

// BusinessMetricForecast is the aggregate forecast result for one metric
type BusinessMetricForecast struct {
	Metric           string           `json:"metric" yaml:"metric"`
	CurrentValue     float64          `json:"current_value" yaml:"current_value"`
	Forecasts        []ForecastPoint  `json:"forecasts" yaml:"forecasts"`
	Anomalies        []AnomalyRecord  `json:"anomalies" yaml:"anomalies"`
	ModelPerformance ModelPerformance `json:"model_performance" yaml:"model_performance"`
	Insights         ForecastInsights `json:"insights" yaml:"insights"`
	ModelsUsed       []string         `json:"models_used" yaml:"models_used"`
	DataPoints       int              `json:"data_points" yaml:"data_points"`
}

// MetricInsight is the headline insight and recommendations for one metric
type MetricInsight struct {
	Metric          string   `json:"metric" yaml:"metric"`
	Category        string   `json:"category" yaml:"category"` // "trend", "seasonality", "volatility", "anomalies", "stable"
	Insight         string   `json:"insight" yaml:"insight"`
	GrowthRate      float64  `json:"growth_rate" yaml:"growth_rate"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
}

// AnomalyReport pools anomalies across metrics
type AnomalyReport struct {
	Total      int                        `json:"total" yaml:"total"`
	All        []AnomalyRecord            `json:"all" yaml:"all"`
	BySeverity map[string][]AnomalyRecord `json:"by_severity" yaml:"by_severity"`
	ByMetric   map[string][]AnomalyRecord `json:"by_metric" yaml:"by_metric"`
}

// BacktestPoint pairs a held-out actual with its prediction
type BacktestPoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Predicted float64   `json:"predicted" yaml:"predicted"`
}

// BacktestResult compares a training-slice forecast against held-out data
type BacktestResult struct {
	Metric      string          `json:"metric" yaml:"metric"`
	TrainSize   int             `json:"train_size" yaml:"train_size"`
	TestSize    int             `json:"test_size" yaml:"test_size"`
	MAE         float64         `json:"mae" yaml:"mae"`
	RMSE        float64         `json:"rmse" yaml:"rmse"`
	MAPE        float64         `json:"mape" yaml:"mape"` // percent
	Accuracy    float64         `json:"accuracy" yaml:"accuracy"`
	Predictions []BacktestPoint `json:"predictions" yaml:"predictions"`
}
