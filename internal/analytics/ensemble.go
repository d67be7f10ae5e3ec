package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// ForecastOptions are the per-request knobs of a forecast
type ForecastOptions struct {
	Horizon         int
	ConfidenceLevel float64
	Models          models.ModelFlags
}

// ensembleFit is the weighted blend of every sub-model that ran
type ensembleFit struct {
	Fitted      []float64
	Predictions []float64
	ModelsUsed  []string
}

// ForecastSeries produces the ensemble forecast, interval bounds and fit
// diagnostics for one metric. Series shorter than MinForecastPoints yield an
// INSUFFICIENT_DATA error naming the minimum.
func (e *Engine) ForecastSeries(series *models.MetricSeries, opts ForecastOptions) (*models.BusinessMetricForecast, error) {
	n := series.Len()
	if n == 0 {
		return nil, errors.NewNoDataError(series.MetricName)
	}
	if n < e.config.MinForecastPoints {
		return nil, errors.NewInsufficientDataError(series.MetricName, e.config.MinForecastPoints, n)
	}

	diag, err := e.Diagnose(series)
	if err != nil {
		return nil, err
	}

	values := series.Values()
	fit, err := e.fitEnsemble(values, opts.Horizon, e.seasonalPeriod(diag.Seasonality, n), opts.Models)
	if err != nil {
		return nil, err
	}

	perf := e.modelPerformance(values, fit.Fitted)
	z := distuv.UnitNormal.Quantile(0.5 + opts.ConfidenceLevel/2)
	r2 := math.Max(0, math.Min(1, perf.RSquared))

	step := inferStep(series.Timestamps())
	last := series.Observations[n-1].Timestamp
	points := make([]models.ForecastPoint, opts.Horizon)
	for i, predicted := range fit.Predictions {
		margin := z * perf.RMSE * math.Sqrt(float64(i+1))
		score := opts.ConfidenceLevel * r2 * math.Exp(-e.config.ConfidenceDecay*float64(i))
		points[i] = models.ForecastPoint{
			Timestamp:       last.Add(time.Duration(i+1) * step),
			PredictedValue:  predicted,
			ConfidenceLower: predicted - margin,
			ConfidenceUpper: predicted + margin,
			ConfidenceScore: math.Max(0, math.Min(1, score)),
		}
	}

	result := &models.BusinessMetricForecast{
		Metric:           series.MetricName,
		CurrentValue:     values[n-1],
		Forecasts:        points,
		Anomalies:        []models.AnomalyRecord{},
		ModelPerformance: perf,
		Insights: models.ForecastInsights{
			Trend:               trendLabel(diag.Trend),
			SeasonalityDetected: diag.Seasonality != nil && diag.Seasonality.HasSeasonality,
			VolatilityLevel:     diag.VolatilityLevel,
		},
		ModelsUsed: fit.ModelsUsed,
		DataPoints: n,
	}
	if opts.Models.AnomalyDetectionEnabled() {
		result.Anomalies = e.DetectAnomalies(series)
	}

	e.logger.WithFields(logrus.Fields{
		"metric":      series.MetricName,
		"data_points": n,
		"horizon":     opts.Horizon,
		"models":      fit.ModelsUsed,
		"r_squared":   perf.RSquared,
	}).Debug("Generated ensemble forecast")

	return result, nil
}

// fitEnsemble runs every enabled sub-model and blends them with the configured
// weights renormalised over the models that produced output. With the ensemble
// flag off only the highest-priority enabled model is used.
func (e *Engine) fitEnsemble(values []float64, horizon, period int, flags models.ModelFlags) (*ensembleFit, error) {
	params := ForecastParameters{
		SeasonalPeriod: period,
		Alpha:          e.config.SmoothingAlpha,
		Beta:           e.config.SmoothingBeta,
		Gamma:          e.config.SmoothingGamma,
		Degree:         e.config.PolynomialDegree,
	}

	fits := make([]*ModelFit, 0, 4)
	weights := make([]float64, 0, 4)
	for _, name := range e.registry.Names() {
		if !modelEnabled(name, flags) {
			continue
		}
		weight := e.config.EnsembleWeights[name]
		if weight <= 0 {
			continue
		}
		forecaster, _ := e.registry.Get(name)
		fit, err := forecaster.Fit(values, horizon, params)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"model": name,
				"error": err.Error(),
			}).Debug("Sub-model skipped")
			continue
		}
		fits = append(fits, fit)
		weights = append(weights, weight)
		if !flags.EnsembleEnabled() {
			break
		}
	}

	if len(fits) == 0 {
		return nil, errors.NewComputationError("no forecasting sub-model could be fitted")
	}

	total := 0.0
	for _, w := range weights {
		total += w
	}

	result := &ensembleFit{
		Fitted:      make([]float64, len(values)),
		Predictions: make([]float64, horizon),
		ModelsUsed:  make([]string, 0, len(fits)),
	}
	for k, fit := range fits {
		w := weights[k] / total
		for i, v := range fit.Fitted {
			result.Fitted[i] += w * v
		}
		for h, v := range fit.Predictions {
			result.Predictions[h] += w * v
		}
		result.ModelsUsed = append(result.ModelsUsed, fit.Model)
	}

	for _, v := range result.Predictions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewComputationError("ensemble produced a non-finite prediction")
		}
	}
	return result, nil
}

// modelEnabled maps request flags onto sub-models. Linear and polynomial have
// no request flag and always run.
func modelEnabled(name string, flags models.ModelFlags) bool {
	switch name {
	case constants.ModelArima:
		return flags.ArimaEnabled()
	case constants.ModelExponential:
		return flags.ExponentialEnabled()
	default:
		return true
	}
}

// seasonalPeriod picks the strongest detected lag that leaves at least two
// full periods of history.
func (e *Engine) seasonalPeriod(seasonality *SeasonalityAnalysis, n int) int {
	if seasonality == nil || !seasonality.HasSeasonality {
		return 0
	}
	best, bestCorr := 0, 0.0
	for _, lc := range seasonality.Lags {
		if lc.Correlation > e.config.SeasonalityThreshold && lc.Correlation > bestCorr && n >= 2*lc.Lag {
			best, bestCorr = lc.Lag, lc.Correlation
		}
	}
	return best
}

// modelPerformance compares in-sample fitted values to the actuals
func (e *Engine) modelPerformance(actual, fitted []float64) models.ModelPerformance {
	mae, rmse, mape := accuracyMetrics(actual, fitted)
	return models.ModelPerformance{
		RSquared: rSquared(actual, fitted),
		MAE:      mae,
		RMSE:     rmse,
		MAPE:     mape,
	}
}

// rSquared is 1 - SSres/SStot. A constant series scores 1 when fitted exactly.
func rSquared(actual, fitted []float64) float64 {
	r2 := stat.RSquaredFrom(fitted, actual, nil)
	if !math.IsNaN(r2) && !math.IsInf(r2, 0) {
		return r2
	}
	for i := range actual {
		if math.Abs(actual[i]-fitted[i]) > 1e-9*(1+math.Abs(actual[i])) {
			return 0
		}
	}
	return 1
}

// inferStep returns the median positive spacing between timestamps, or one
// day when the spacing cannot be inferred.
func inferStep(timestamps []time.Time) time.Duration {
	diffs := make([]time.Duration, 0, len(timestamps))
	for i := 1; i < len(timestamps); i++ {
		if d := timestamps[i].Sub(timestamps[i-1]); d > 0 {
			diffs = append(diffs, d)
		}
	}
	if len(diffs) == 0 {
		return 24 * time.Hour
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })
	return diffs[(len(diffs)-1)/2]
}

func trendLabel(trend *TrendAnalysis) string {
	if trend == nil {
		return models.TrendStable
	}
	switch trend.Direction {
	case DirectionIncreasing:
		return models.TrendUpward
	case DirectionDecreasing:
		return models.TrendDownward
	default:
		return models.TrendStable
	}
}
