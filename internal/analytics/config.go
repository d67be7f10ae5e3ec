package analytics

import (
	"fmt"

	"github.com/inferloop/tsforecast/pkg/constants"
)

// EngineConfig holds every heuristic threshold and weight used by the engine.
// The defaults are tuned constants, not values fitted per metric.
type EngineConfig struct {
	// Statistics
	TrendSlopeThreshold     float64 `json:"trend_slope_threshold" yaml:"trend_slope_threshold" mapstructure:"trend_slope_threshold"`
	StationarityThreshold   float64 `json:"stationarity_threshold" yaml:"stationarity_threshold" mapstructure:"stationarity_threshold"`
	AutocorrelationLags     []int   `json:"autocorrelation_lags" yaml:"autocorrelation_lags" mapstructure:"autocorrelation_lags"`
	SeasonalityLags         []int   `json:"seasonality_lags" yaml:"seasonality_lags" mapstructure:"seasonality_lags"`
	SeasonalityThreshold    float64 `json:"seasonality_threshold" yaml:"seasonality_threshold" mapstructure:"seasonality_threshold"`
	ChangePointWindow       int     `json:"change_point_window" yaml:"change_point_window" mapstructure:"change_point_window"`
	ChangePointThreshold    float64 `json:"change_point_threshold" yaml:"change_point_threshold" mapstructure:"change_point_threshold"`
	LowVolatilityThreshold  float64 `json:"low_volatility_threshold" yaml:"low_volatility_threshold" mapstructure:"low_volatility_threshold"`
	HighVolatilityThreshold float64 `json:"high_volatility_threshold" yaml:"high_volatility_threshold" mapstructure:"high_volatility_threshold"`

	// Forecasting
	MinForecastPoints     int                `json:"min_forecast_points" yaml:"min_forecast_points" mapstructure:"min_forecast_points"`
	SmoothingAlpha        float64            `json:"smoothing_alpha" yaml:"smoothing_alpha" mapstructure:"smoothing_alpha"`
	SmoothingBeta         float64            `json:"smoothing_beta" yaml:"smoothing_beta" mapstructure:"smoothing_beta"`
	SmoothingGamma        float64            `json:"smoothing_gamma" yaml:"smoothing_gamma" mapstructure:"smoothing_gamma"`
	PolynomialDegree      int                `json:"polynomial_degree" yaml:"polynomial_degree" mapstructure:"polynomial_degree"`
	EnsembleWeights       map[string]float64 `json:"ensemble_weights" yaml:"ensemble_weights" mapstructure:"ensemble_weights"`
	ConfidenceDecay       float64            `json:"confidence_decay" yaml:"confidence_decay" mapstructure:"confidence_decay"`
	StrongGrowthThreshold float64            `json:"strong_growth_threshold" yaml:"strong_growth_threshold" mapstructure:"strong_growth_threshold"`

	// Anomaly detection
	AnomalyWindow        int     `json:"anomaly_window" yaml:"anomaly_window" mapstructure:"anomaly_window"`
	AnomalyMinHistory    int     `json:"anomaly_min_history" yaml:"anomaly_min_history" mapstructure:"anomaly_min_history"`
	AnomalyThreshold     float64 `json:"anomaly_threshold" yaml:"anomaly_threshold" mapstructure:"anomaly_threshold"`
	AnomalyStdFloorRatio float64 `json:"anomaly_std_floor_ratio" yaml:"anomaly_std_floor_ratio" mapstructure:"anomaly_std_floor_ratio"`
	SeverityScale        float64 `json:"severity_scale" yaml:"severity_scale" mapstructure:"severity_scale"`

	// Backtesting
	MinBacktestPoints int `json:"min_backtest_points" yaml:"min_backtest_points" mapstructure:"min_backtest_points"`

	// DefaultLookbackDays is the window fetched from a source when a request has no dates.
	DefaultLookbackDays int `json:"default_lookback_days" yaml:"default_lookback_days" mapstructure:"default_lookback_days"`
}

// NewDefaultEngineConfig returns the engine defaults
func NewDefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		TrendSlopeThreshold:     0.01,
		StationarityThreshold:   0.10,
		AutocorrelationLags:     []int{1, 7, 30},
		SeasonalityLags:         []int{7, 30},
		SeasonalityThreshold:    0.5,
		ChangePointWindow:       10,
		ChangePointThreshold:    0.20,
		LowVolatilityThreshold:  0.05,
		HighVolatilityThreshold: 0.15,

		MinForecastPoints: 20,
		SmoothingAlpha:    0.3,
		SmoothingBeta:     0.1,
		SmoothingGamma:    0.2,
		PolynomialDegree:  2,
		EnsembleWeights: map[string]float64{
			constants.ModelArima:       0.4,
			constants.ModelExponential: 0.3,
			constants.ModelLinear:      0.2,
			constants.ModelPolynomial:  0.1,
		},
		ConfidenceDecay:       0.05,
		StrongGrowthThreshold: 0.10,

		AnomalyWindow:        14,
		AnomalyMinHistory:    3,
		AnomalyThreshold:     2.5,
		AnomalyStdFloorRatio: 0.01,
		SeverityScale:        2.0,

		MinBacktestPoints: 60,

		DefaultLookbackDays: constants.DefaultLookbackDays,
	}
}

// Validate checks the configuration for values the algorithms cannot run with
func (c *EngineConfig) Validate() error {
	if c.MinForecastPoints < 3 {
		return fmt.Errorf("min_forecast_points must be at least 3")
	}
	// the smallest allowed split (0.5) must still leave a forecastable training slice
	if c.MinBacktestPoints < 2*c.MinForecastPoints {
		return fmt.Errorf("min_backtest_points must be at least twice min_forecast_points")
	}
	for name, a := range map[string]float64{
		"smoothing_alpha": c.SmoothingAlpha,
		"smoothing_beta":  c.SmoothingBeta,
		"smoothing_gamma": c.SmoothingGamma,
	} {
		if a <= 0 || a >= 1 {
			return fmt.Errorf("%s must be in (0, 1)", name)
		}
	}
	if c.PolynomialDegree < 1 || c.PolynomialDegree > 5 {
		return fmt.Errorf("polynomial_degree must be between 1 and 5")
	}
	total := 0.0
	for name, w := range c.EnsembleWeights {
		if w < 0 {
			return fmt.Errorf("ensemble weight for %s must not be negative", name)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("ensemble weights must sum to a positive value")
	}
	if c.ConfidenceDecay < 0 {
		return fmt.Errorf("confidence_decay must not be negative")
	}
	if c.AnomalyWindow < 2 {
		return fmt.Errorf("anomaly_window must be at least 2")
	}
	if c.AnomalyMinHistory < 2 || c.AnomalyMinHistory > c.AnomalyWindow {
		return fmt.Errorf("anomaly_min_history must be between 2 and anomaly_window")
	}
	if c.AnomalyThreshold <= 0 {
		return fmt.Errorf("anomaly_threshold must be positive")
	}
	if c.SeverityScale <= 0 {
		return fmt.Errorf("severity_scale must be positive")
	}
	if c.LowVolatilityThreshold >= c.HighVolatilityThreshold {
		return fmt.Errorf("low_volatility_threshold must be below high_volatility_threshold")
	}
	if c.ChangePointWindow < 1 {
		return fmt.Errorf("change_point_window must be at least 1")
	}
	if c.DefaultLookbackDays < 1 {
		return fmt.Errorf("default_lookback_days must be at least 1")
	}
	return nil
}
