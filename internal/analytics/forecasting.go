package analytics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/pkg/constants"
)

// Forecaster is one sub-model of the ensemble. Fit returns in-sample fitted
// values aligned with the input and horizon out-of-sample predictions.
type Forecaster interface {
	Name() string
	MinPoints() int
	Fit(data []float64, horizon int, params ForecastParameters) (*ModelFit, error)
}

// ForecastParameters carries the tunables a sub-model may read
type ForecastParameters struct {
	SeasonalPeriod int // 0 disables the seasonal component
	Alpha          float64
	Beta           float64
	Gamma          float64
	Degree         int
}

// ModelFit is the output of a single sub-model
type ModelFit struct {
	Model       string
	Fitted      []float64
	Predictions []float64
}

// ForecasterRegistry manages forecasting algorithms in ensemble priority order
type ForecasterRegistry struct {
	forecasters map[string]Forecaster
	order       []string
}

// NewForecasterRegistry creates a new forecaster registry
func NewForecasterRegistry() *ForecasterRegistry {
	registry := &ForecasterRegistry{
		forecasters: make(map[string]Forecaster),
	}

	registry.Register(&ARIMAForecaster{})
	registry.Register(&HoltWintersForecaster{})
	registry.Register(&LinearRegressionForecaster{})
	registry.Register(&PolynomialForecaster{})

	return registry
}

// Register registers a forecaster. Registration order is priority order.
func (fr *ForecasterRegistry) Register(forecaster Forecaster) {
	if _, exists := fr.forecasters[forecaster.Name()]; !exists {
		fr.order = append(fr.order, forecaster.Name())
	}
	fr.forecasters[forecaster.Name()] = forecaster
}

// Get returns a forecaster by name
func (fr *ForecasterRegistry) Get(name string) (Forecaster, bool) {
	forecaster, exists := fr.forecasters[name]
	return forecaster, exists
}

// Names returns registered forecaster names in priority order
func (fr *ForecasterRegistry) Names() []string {
	names := make([]string, len(fr.order))
	copy(names, fr.order)
	return names
}

// LinearRegressionForecaster extrapolates the OLS trend line
type LinearRegressionForecaster struct{}

// Name returns the forecaster name
func (lr *LinearRegressionForecaster) Name() string {
	return constants.ModelLinear
}

// MinPoints returns the fewest points the model can fit
func (lr *LinearRegressionForecaster) MinPoints() int {
	return 2
}

// Fit fits value against index and extends the line
func (lr *LinearRegressionForecaster) Fit(data []float64, horizon int, params ForecastParameters) (*ModelFit, error) {
	n := len(data)
	if n < lr.MinPoints() {
		return nil, fmt.Errorf("linear model needs at least %d points, got %d", lr.MinPoints(), n)
	}

	intercept, slope := stat.LinearRegression(indexSeries(n), data, nil, false)

	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = intercept + slope*float64(i)
	}
	predictions := make([]float64, horizon)
	for h := range predictions {
		predictions[h] = intercept + slope*float64(n+h)
	}

	return &ModelFit{Model: lr.Name(), Fitted: fitted, Predictions: predictions}, nil
}

// PolynomialForecaster fits a low-degree polynomial by least squares.
// Extrapolation diverges quickly and is only reliable for short horizons.
type PolynomialForecaster struct{}

// Name returns the forecaster name
func (pf *PolynomialForecaster) Name() string {
	return constants.ModelPolynomial
}

// MinPoints returns the fewest points the model can fit
func (pf *PolynomialForecaster) MinPoints() int {
	return 3
}

// Fit solves the Vandermonde least-squares system with a QR decomposition.
// The index is scaled to [0, 1] to keep the system well conditioned.
func (pf *PolynomialForecaster) Fit(data []float64, horizon int, params ForecastParameters) (*ModelFit, error) {
	n := len(data)
	degree := params.Degree
	if degree <= 0 {
		degree = 2
	}
	if n < pf.MinPoints() || n <= degree {
		return nil, fmt.Errorf("polynomial model of degree %d needs more than %d points, got %d", degree, degree, n)
	}

	scale := float64(n - 1)
	X := mat.NewDense(n, degree+1, nil)
	for i := 0; i < n; i++ {
		x := float64(i) / scale
		pow := 1.0
		for j := 0; j <= degree; j++ {
			X.Set(i, j, pow)
			pow *= x
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), data...))

	var coef mat.VecDense
	if err := coef.SolveVec(X, y); err != nil {
		return nil, fmt.Errorf("polynomial least squares failed: %w", err)
	}

	eval := func(i int) float64 {
		x := float64(i) / scale
		value, pow := 0.0, 1.0
		for j := 0; j <= degree; j++ {
			value += coef.AtVec(j) * pow
			pow *= x
		}
		return value
	}

	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = eval(i)
	}
	predictions := make([]float64, horizon)
	for h := range predictions {
		predictions[h] = eval(n + h)
	}

	return &ModelFit{Model: pf.Name(), Fitted: fitted, Predictions: predictions}, nil
}

// HoltWintersForecaster implements additive Holt-Winters smoothing. Without a
// seasonal period it reduces to Holt's linear trend method.
type HoltWintersForecaster struct{}

// Name returns the forecaster name
func (hw *HoltWintersForecaster) Name() string {
	return constants.ModelExponential
}

// MinPoints returns the fewest points the model can fit
func (hw *HoltWintersForecaster) MinPoints() int {
	return 2
}

// Fit runs one smoothing pass over the data. Each fitted value is the
// one-step-ahead prediction made before the observation was seen.
func (hw *HoltWintersForecaster) Fit(data []float64, horizon int, params ForecastParameters) (*ModelFit, error) {
	n := len(data)
	if n < hw.MinPoints() {
		return nil, fmt.Errorf("exponential model needs at least %d points, got %d", hw.MinPoints(), n)
	}

	alpha, beta, gamma := params.Alpha, params.Beta, params.Gamma
	period := params.SeasonalPeriod
	if period < 2 || n < 2*period {
		period = 0
	}

	level, trend, seasonal := hw.initializeComponents(data, period)
	season := func(t int) float64 {
		if period == 0 {
			return 0
		}
		return seasonal[t%period]
	}

	fitted := make([]float64, n)
	for t := 0; t < n; t++ {
		fitted[t] = level + trend + season(t)

		prevLevel := level
		level = alpha*(data[t]-season(t)) + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
		if period > 0 {
			seasonal[t%period] = gamma*(data[t]-level) + (1-gamma)*seasonal[t%period]
		}
	}

	predictions := make([]float64, horizon)
	for h := range predictions {
		predictions[h] = level + float64(h+1)*trend + season(n+h)
	}

	return &ModelFit{Model: hw.Name(), Fitted: fitted, Predictions: predictions}, nil
}

// initializeComponents seeds level and trend from the OLS line so the first
// one-step prediction equals the fitted intercept. Seasonal indices are the
// centred mean OLS residual at each phase.
func (hw *HoltWintersForecaster) initializeComponents(data []float64, period int) (level, trend float64, seasonal []float64) {
	n := len(data)
	intercept, slope := stat.LinearRegression(indexSeries(n), data, nil, false)
	level = intercept - slope
	trend = slope

	if period == 0 {
		return level, trend, nil
	}

	seasonal = make([]float64, period)
	counts := make([]int, period)
	for t, v := range data {
		seasonal[t%period] += v - (intercept + slope*float64(t))
		counts[t%period]++
	}
	total := 0.0
	for i := range seasonal {
		if counts[i] > 0 {
			seasonal[i] /= float64(counts[i])
		}
		total += seasonal[i]
	}
	mean := total / float64(period)
	for i := range seasonal {
		seasonal[i] -= mean
	}

	return level, trend, seasonal
}

// ARIMAForecaster is an autoregressive model on first differences: each
// difference reverts toward the mean difference at rate phi.
type ARIMAForecaster struct{}

// Name returns the forecaster name
func (arima *ARIMAForecaster) Name() string {
	return constants.ModelArima
}

// MinPoints returns the fewest points the model can fit
func (arima *ARIMAForecaster) MinPoints() int {
	return 3
}

// Fit estimates the AR(1) coefficient of the differenced series and
// integrates the predicted differences back to levels.
func (arima *ARIMAForecaster) Fit(data []float64, horizon int, params ForecastParameters) (*ModelFit, error) {
	n := len(data)
	if n < arima.MinPoints() {
		return nil, fmt.Errorf("arima model needs at least %d points, got %d", arima.MinPoints(), n)
	}

	diffs := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diffs[i-1] = data[i] - data[i-1]
	}
	mu := stat.Mean(diffs, nil)
	phi := arima.estimateAR1(diffs, mu)

	fitted := make([]float64, n)
	fitted[0] = data[0]
	fitted[1] = data[0] + mu
	for t := 2; t < n; t++ {
		fitted[t] = data[t-1] + mu + phi*(diffs[t-2]-mu)
	}

	predictions := make([]float64, horizon)
	last := data[n-1]
	prevDiff := diffs[len(diffs)-1]
	for h := range predictions {
		next := mu + phi*(prevDiff-mu)
		last += next
		predictions[h] = last
		prevDiff = next
	}

	return &ModelFit{Model: arima.Name(), Fitted: fitted, Predictions: predictions}, nil
}

// estimateAR1 is the lag-1 least-squares coefficient of the demeaned
// differences, clamped inside the stationary region.
func (arima *ARIMAForecaster) estimateAR1(diffs []float64, mu float64) float64 {
	if len(diffs) < 2 {
		return 0
	}

	numerator, denominator := 0.0, 0.0
	for i := 1; i < len(diffs); i++ {
		prev := diffs[i-1] - mu
		numerator += (diffs[i] - mu) * prev
		denominator += prev * prev
	}
	if denominator == 0 {
		return 0
	}

	return math.Max(-0.99, math.Min(0.99, numerator/denominator))
}
