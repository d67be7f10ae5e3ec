package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// BasicStatistics contains descriptive measures of a series
type BasicStatistics struct {
	Count       int     `json:"count" yaml:"count"`
	Mean        float64 `json:"mean" yaml:"mean"`
	Median      float64 `json:"median" yaml:"median"`
	StandardDev float64 `json:"standard_deviation" yaml:"standard_deviation"`
	Min         float64 `json:"minimum" yaml:"minimum"`
	Max         float64 `json:"maximum" yaml:"maximum"`
	Q1          float64 `json:"q1" yaml:"q1"`
	Q3          float64 `json:"q3" yaml:"q3"`
}

// TrendAnalysis contains the OLS trend against the observation index
type TrendAnalysis struct {
	Direction string  `json:"direction" yaml:"direction"` // "increasing", "decreasing", "stable"
	Slope     float64 `json:"slope" yaml:"slope"`
	Intercept float64 `json:"intercept" yaml:"intercept"`
	RSquared  float64 `json:"r_squared" yaml:"r_squared"`
}

// Trend directions
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

// StationarityCheck is a half-means comparison, not a unit-root test
type StationarityCheck struct {
	FirstHalfMean  float64 `json:"first_half_mean" yaml:"first_half_mean"`
	SecondHalfMean float64 `json:"second_half_mean" yaml:"second_half_mean"`
	RelativeDiff   float64 `json:"relative_difference" yaml:"relative_difference"`
	IsStationary   bool    `json:"is_stationary" yaml:"is_stationary"`
}

// LagCorrelation is the Pearson correlation of a series with itself shifted by Lag
type LagCorrelation struct {
	Lag         int     `json:"lag" yaml:"lag"`
	Correlation float64 `json:"correlation" yaml:"correlation"`
}

// SeasonalityAnalysis reports lag correlations at the seasonal periods
type SeasonalityAnalysis struct {
	HasSeasonality bool             `json:"has_seasonality" yaml:"has_seasonality"`
	Period         int              `json:"period,omitempty" yaml:"period,omitempty"`
	Strength       float64          `json:"strength" yaml:"strength"`
	Lags           []LagCorrelation `json:"lags" yaml:"lags"`
}

// ChangePoint marks an index where the local mean shifts
type ChangePoint struct {
	Index        int     `json:"index" yaml:"index"`
	Direction    string  `json:"direction" yaml:"direction"` // "increase", "decrease"
	RelativeDiff float64 `json:"relative_difference" yaml:"relative_difference"`
	BeforeMean   float64 `json:"before_mean" yaml:"before_mean"`
	AfterMean    float64 `json:"after_mean" yaml:"after_mean"`
}

// SeriesDiagnostics bundles every statistic computed for one metric.
// Statistics that need more points than available are nil or empty.
type SeriesDiagnostics struct {
	Metric          string               `json:"metric" yaml:"metric"`
	Basic           *BasicStatistics     `json:"basic_stats" yaml:"basic_stats"`
	Trend           *TrendAnalysis       `json:"trend,omitempty" yaml:"trend,omitempty"`
	Volatility      float64              `json:"volatility" yaml:"volatility"`
	VolatilityLevel string               `json:"volatility_level" yaml:"volatility_level"`
	Stationarity    *StationarityCheck   `json:"stationarity,omitempty" yaml:"stationarity,omitempty"`
	Autocorrelation []LagCorrelation     `json:"autocorrelation" yaml:"autocorrelation"`
	Seasonality     *SeasonalityAnalysis `json:"seasonality" yaml:"seasonality"`
	ChangePoints    []ChangePoint        `json:"change_points" yaml:"change_points"`
}

// Diagnose computes the full statistics bundle for a series.
// An empty series yields a NO_DATA error.
func (e *Engine) Diagnose(series *models.MetricSeries) (*SeriesDiagnostics, error) {
	values := series.Values()
	basic, err := e.calculateBasicStatistics(values)
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			appErr.WithContext("metric", series.MetricName)
		}
		return nil, err
	}

	volatility := e.calculateVolatility(values)
	diag := &SeriesDiagnostics{
		Metric:          series.MetricName,
		Basic:           basic,
		Trend:           e.analyzeTrend(values),
		Volatility:      volatility,
		VolatilityLevel: e.volatilityLevel(volatility),
		Stationarity:    e.checkStationarity(values),
		Autocorrelation: e.autocorrelations(values, e.config.AutocorrelationLags),
		Seasonality:     e.analyzeSeasonality(values),
		ChangePoints:    e.detectChangePoints(values),
	}
	return diag, nil
}

// calculateBasicStatistics computes descriptive measures. The median of an
// even-length series is the lower-middle element and quartiles use the
// index-floor method without interpolation.
func (e *Engine) calculateBasicStatistics(values []float64) (*BasicStatistics, error) {
	n := len(values)
	if n == 0 {
		return nil, errors.NewNoDataError("")
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, stdDev := stat.PopMeanStdDev(values, nil)
	if n == 1 {
		stdDev = 0
	}

	return &BasicStatistics{
		Count:       n,
		Mean:        mean,
		Median:      sorted[(n-1)/2],
		StandardDev: stdDev,
		Min:         sorted[0],
		Max:         sorted[n-1],
		Q1:          e.calculatePercentile(sorted, 0.25),
		Q3:          e.calculatePercentile(sorted, 0.75),
	}, nil
}

func (e *Engine) calculatePercentile(sortedValues []float64, percentile float64) float64 {
	n := len(sortedValues)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(percentile * float64(n-1)))
	return sortedValues[idx]
}

// analyzeTrend fits value against index 0..n-1. The slope cutoffs are absolute
// and not scaled by the series magnitude.
func (e *Engine) analyzeTrend(values []float64) *TrendAnalysis {
	if len(values) < 2 {
		return nil
	}

	slope, intercept, rSquared := e.linearRegression(values)

	direction := DirectionStable
	switch {
	case slope > e.config.TrendSlopeThreshold:
		direction = DirectionIncreasing
	case slope < -e.config.TrendSlopeThreshold:
		direction = DirectionDecreasing
	}

	return &TrendAnalysis{
		Direction: direction,
		Slope:     slope,
		Intercept: intercept,
		RSquared:  rSquared,
	}
}

// linearRegression returns the OLS fit of values against their index
func (e *Engine) linearRegression(values []float64) (slope, intercept, rSquared float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0
	}
	if n == 1 {
		return 0, values[0], 0
	}

	x := indexSeries(n)
	intercept, slope = stat.LinearRegression(x, values, nil, false)
	rSquared = stat.RSquared(x, values, nil, intercept, slope)
	if math.IsNaN(rSquared) || math.IsInf(rSquared, 0) {
		rSquared = 0
	}
	return slope, intercept, rSquared
}

// calculateVolatility is the population standard deviation of period-over-period
// relative returns. Returns whose base value is zero are excluded.
func (e *Engine) calculateVolatility(values []float64) float64 {
	returns := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(returns, nil)
	return std
}

func (e *Engine) volatilityLevel(volatility float64) string {
	switch {
	case volatility < e.config.LowVolatilityThreshold:
		return models.VolatilityLow
	case volatility < e.config.HighVolatilityThreshold:
		return models.VolatilityMedium
	default:
		return models.VolatilityHigh
	}
}

// checkStationarity compares the means of the two halves of the series.
// This is a heuristic and not a statistical test.
func (e *Engine) checkStationarity(values []float64) *StationarityCheck {
	n := len(values)
	if n < 2 {
		return nil
	}

	half := n / 2
	first := stat.Mean(values[:half], nil)
	second := stat.Mean(values[half:], nil)

	var relDiff float64
	switch {
	case first != 0:
		relDiff = math.Abs(second-first) / math.Abs(first)
	case second != 0:
		relDiff = math.Inf(1)
	}

	return &StationarityCheck{
		FirstHalfMean:  first,
		SecondHalfMean: second,
		RelativeDiff:   finiteOr(relDiff, math.MaxFloat64),
		IsStationary:   relDiff < e.config.StationarityThreshold,
	}
}

// autocorrelations correlates the series with itself at each lag over the
// n-k overlapping pairs. Lags that leave fewer than two pairs are omitted.
func (e *Engine) autocorrelations(values []float64, lags []int) []LagCorrelation {
	n := len(values)
	result := make([]LagCorrelation, 0, len(lags))
	for _, k := range lags {
		if k <= 0 || n <= k || n-k < 2 {
			continue
		}
		corr := stat.Correlation(values[:n-k], values[k:], nil)
		result = append(result, LagCorrelation{
			Lag:         k,
			Correlation: finiteOr(corr, 0),
		})
	}
	return result
}

// analyzeSeasonality flags the strongest seasonal lag whose correlation
// exceeds the configured threshold.
func (e *Engine) analyzeSeasonality(values []float64) *SeasonalityAnalysis {
	lags := e.autocorrelations(values, e.config.SeasonalityLags)
	result := &SeasonalityAnalysis{Lags: lags}

	for _, lc := range lags {
		if lc.Correlation > e.config.SeasonalityThreshold && lc.Correlation > result.Strength {
			result.HasSeasonality = true
			result.Period = lc.Lag
			result.Strength = lc.Correlation
		}
	}
	return result
}

// detectChangePoints compares the mean of the window before each index with
// the window starting at it. Consecutive flagged indices collapse to the one
// with the largest relative difference.
func (e *Engine) detectChangePoints(values []float64) []ChangePoint {
	n := len(values)
	w := e.config.ChangePointWindow
	if n/4 < w {
		w = n / 4
	}
	points := make([]ChangePoint, 0)
	if w < 1 {
		return points
	}

	lastFlagged := -2
	for i := w; i+w <= n; i++ {
		before := stat.Mean(values[i-w:i], nil)
		after := stat.Mean(values[i:i+w], nil)
		if before == 0 {
			continue
		}

		rel := (after - before) / math.Abs(before)
		if math.Abs(rel) <= e.config.ChangePointThreshold {
			continue
		}

		direction := "increase"
		if rel < 0 {
			direction = "decrease"
		}
		cp := ChangePoint{
			Index:        i,
			Direction:    direction,
			RelativeDiff: rel,
			BeforeMean:   before,
			AfterMean:    after,
		}

		if i == lastFlagged+1 && len(points) > 0 {
			prev := &points[len(points)-1]
			if math.Abs(rel) > math.Abs(prev.RelativeDiff) {
				*prev = cp
			}
		} else {
			points = append(points, cp)
		}
		lastFlagged = i
	}
	return points
}

func indexSeries(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
