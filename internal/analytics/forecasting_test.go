package analytics

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

func defaultParams() ForecastParameters {
	cfg := NewDefaultEngineConfig()
	return ForecastParameters{
		Alpha:  cfg.SmoothingAlpha,
		Beta:   cfg.SmoothingBeta,
		Gamma:  cfg.SmoothingGamma,
		Degree: cfg.PolynomialDegree,
	}
}

func TestForecasterRegistryOrder(t *testing.T) {
	registry := NewForecasterRegistry()

	assert.Equal(t, []string{
		constants.ModelArima,
		constants.ModelExponential,
		constants.ModelLinear,
		constants.ModelPolynomial,
	}, registry.Names())

	forecaster, ok := registry.Get(constants.ModelPolynomial)
	require.True(t, ok)
	assert.Equal(t, 3, forecaster.MinPoints())

	_, ok = registry.Get("prophet")
	assert.False(t, ok)
}

func TestSubModelsAreExactOnLinearData(t *testing.T) {
	data := linearValues(40, 100, 5)
	registry := NewForecasterRegistry()

	for _, name := range registry.Names() {
		t.Run(name, func(t *testing.T) {
			forecaster, _ := registry.Get(name)
			fit, err := forecaster.Fit(data, 10, defaultParams())
			require.NoError(t, err)

			require.Len(t, fit.Fitted, len(data))
			require.Len(t, fit.Predictions, 10)
			for i, v := range fit.Fitted {
				assert.InDelta(t, data[i], v, 1e-6, "fitted[%d]", i)
			}
			for h, v := range fit.Predictions {
				assert.InDelta(t, 100+5*float64(40+h), v, 1e-6, "prediction[%d]", h)
			}
		})
	}
}

func TestSubModelsRejectShortInput(t *testing.T) {
	registry := NewForecasterRegistry()
	for _, name := range registry.Names() {
		forecaster, _ := registry.Get(name)
		_, err := forecaster.Fit([]float64{1}, 5, defaultParams())
		assert.Error(t, err, name)
	}
}

func TestHoltWintersSeasonalComponent(t *testing.T) {
	data := seasonalValues(56, 7, 100, 10)
	params := defaultParams()
	params.SeasonalPeriod = 7

	fit, err := (&HoltWintersForecaster{}).Fit(data, 7, params)
	require.NoError(t, err)

	// one full period ahead should repeat the last observed period
	for h, v := range fit.Predictions {
		assert.InDelta(t, data[len(data)-7+h], v, 1.0)
	}
}

func TestARIMAClampsCoefficient(t *testing.T) {
	arima := &ARIMAForecaster{}
	phi := arima.estimateAR1([]float64{1, 2, 4, 8, 16, 32}, 0)
	assert.LessOrEqual(t, phi, 0.99)
	assert.GreaterOrEqual(t, phi, -0.99)
	assert.Equal(t, 0.0, arima.estimateAR1([]float64{5, 5, 5}, 5))
}

func TestForecastSeriesLinear(t *testing.T) {
	engine := NewEngine(nil, logrus.New())
	series := createSeries("revenue", linearValues(60, 100, 5))

	forecast, err := engine.ForecastSeries(series, ForecastOptions{Horizon: 30, ConfidenceLevel: 0.95})
	require.NoError(t, err)

	assert.Equal(t, "revenue", forecast.Metric)
	assert.Equal(t, 395.0, forecast.CurrentValue)
	assert.Equal(t, 60, forecast.DataPoints)
	require.Len(t, forecast.Forecasts, 30)
	assert.InDelta(t, 1.0, forecast.ModelPerformance.RSquared, 1e-9)
	assert.InDelta(t, 0.0, forecast.ModelPerformance.MAPE, 1e-6)
	assert.Equal(t, models.TrendUpward, forecast.Insights.Trend)
	assert.Equal(t, models.VolatilityLow, forecast.Insights.VolatilityLevel)
	assert.ElementsMatch(t, []string{"arima", "exponential", "linear", "polynomial"}, forecast.ModelsUsed)
	assert.Empty(t, forecast.Anomalies)

	last := series.Observations[59].Timestamp
	for i, p := range forecast.Forecasts {
		assert.Equal(t, last.Add(time.Duration(i+1)*24*time.Hour), p.Timestamp)
		assert.InDelta(t, 100+5*float64(60+i), p.PredictedValue, 1e-6)
	}
	assert.InDelta(t, 0.95, forecast.Forecasts[0].ConfidenceScore, 1e-9)
}

func TestForecastSeriesInvariants(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	tests := []struct {
		name       string
		values     []float64
		horizon    int
		confidence float64
	}{
		{"noisy trend", noisyTrendValues(120), 45, 0.95},
		{"seasonal", seasonalValues(90, 7, 500, 40), 14, 0.80},
		{"flat", constantValues(30, 50), 1, 0.99},
		{"long horizon", noisyTrendValues(40), 365, 0.90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forecast, err := engine.ForecastSeries(createSeries("revenue", tt.values),
				ForecastOptions{Horizon: tt.horizon, ConfidenceLevel: tt.confidence})
			require.NoError(t, err)
			require.Len(t, forecast.Forecasts, tt.horizon)

			for i, p := range forecast.Forecasts {
				assert.LessOrEqual(t, p.ConfidenceLower, p.PredictedValue)
				assert.LessOrEqual(t, p.PredictedValue, p.ConfidenceUpper)
				assert.GreaterOrEqual(t, p.ConfidenceScore, 0.0)
				assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
				if i > 0 {
					prev := forecast.Forecasts[i-1]
					assert.True(t, p.Timestamp.After(prev.Timestamp))
					assert.LessOrEqual(t, p.ConfidenceScore, prev.ConfidenceScore)
				}
			}
		})
	}
}

func TestForecastSeriesIntervalWidensWithConfidence(t *testing.T) {
	engine := NewEngine(nil, logrus.New())
	series := createSeries("revenue", noisyTrendValues(90))

	narrow, err := engine.ForecastSeries(series, ForecastOptions{Horizon: 5, ConfidenceLevel: 0.80})
	require.NoError(t, err)
	wide, err := engine.ForecastSeries(series, ForecastOptions{Horizon: 5, ConfidenceLevel: 0.99})
	require.NoError(t, err)

	for i := range narrow.Forecasts {
		narrowWidth := narrow.Forecasts[i].ConfidenceUpper - narrow.Forecasts[i].ConfidenceLower
		wideWidth := wide.Forecasts[i].ConfidenceUpper - wide.Forecasts[i].ConfidenceLower
		assert.Greater(t, wideWidth, narrowWidth)
	}
}

func TestForecastSeriesInsufficientData(t *testing.T) {
	engine := NewEngine(nil, logrus.New())

	_, err := engine.ForecastSeries(createSeries("revenue", linearValues(19, 100, 5)),
		ForecastOptions{Horizon: 30, ConfidenceLevel: 0.95})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInsufficientData)

	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeInsufficientData, appErr.Code)
	assert.Equal(t, 20, appErr.Context["required"])
	assert.Equal(t, 19, appErr.Context["actual"])
}

func TestForecastSeriesModelFlags(t *testing.T) {
	engine := NewEngine(nil, logrus.New())
	series := createSeries("revenue", noisyTrendValues(60))

	single, err := engine.ForecastSeries(series, ForecastOptions{
		Horizon: 10, ConfidenceLevel: 0.95,
		Models: models.ModelFlags{Ensemble: models.Bool(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{constants.ModelArima}, single.ModelsUsed)

	noArima, err := engine.ForecastSeries(series, ForecastOptions{
		Horizon: 10, ConfidenceLevel: 0.95,
		Models: models.ModelFlags{Arima: models.Bool(false), AnomalyDetection: models.Bool(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{constants.ModelExponential, constants.ModelLinear, constants.ModelPolynomial}, noArima.ModelsUsed)

	fallback, err := engine.ForecastSeries(series, ForecastOptions{
		Horizon: 10, ConfidenceLevel: 0.95,
		Models: models.ModelFlags{
			Arima:       models.Bool(false),
			Exponential: models.Bool(false),
			Ensemble:    models.Bool(false),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{constants.ModelLinear}, fallback.ModelsUsed)
}

func TestForecastSeriesAttachesAnomalies(t *testing.T) {
	engine := NewEngine(nil, logrus.New())
	values := constantValues(40, 100)
	values[30] = 500
	series := createSeries("revenue", values)

	withAnomalies, err := engine.ForecastSeries(series, ForecastOptions{Horizon: 5, ConfidenceLevel: 0.95})
	require.NoError(t, err)
	assert.Len(t, withAnomalies.Anomalies, 1)

	without, err := engine.ForecastSeries(series, ForecastOptions{
		Horizon: 5, ConfidenceLevel: 0.95,
		Models: models.ModelFlags{AnomalyDetection: models.Bool(false)},
	})
	require.NoError(t, err)
	assert.Empty(t, without.Anomalies)
}

func TestForecastSeriesIsDeterministic(t *testing.T) {
	engine := NewEngine(nil, logrus.New())
	series := createSeries("revenue", noisyTrendValues(100))
	opts := ForecastOptions{Horizon: 20, ConfidenceLevel: 0.9}

	first, err := engine.ForecastSeries(series, opts)
	require.NoError(t, err)
	second, err := engine.ForecastSeries(series, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestInferStep(t *testing.T) {
	hourly := []time.Time{baseTime, baseTime.Add(time.Hour), baseTime.Add(2 * time.Hour), baseTime.Add(5 * time.Hour)}
	assert.Equal(t, time.Hour, inferStep(hourly))

	duplicates := []time.Time{baseTime, baseTime, baseTime}
	assert.Equal(t, 24*time.Hour, inferStep(duplicates))
	assert.Equal(t, 24*time.Hour, inferStep(nil))
}

func TestRSquared(t *testing.T) {
	assert.Equal(t, 1.0, rSquared([]float64{5, 5, 5}, []float64{5, 5, 5}))
	assert.Equal(t, 0.0, rSquared([]float64{5, 5, 5}, []float64{4, 5, 6}))
	assert.InDelta(t, 1.0, rSquared([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
}
