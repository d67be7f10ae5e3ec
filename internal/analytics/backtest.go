package analytics

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// BacktestOptions configures a holdout evaluation
type BacktestOptions struct {
	TrainTestSplit float64
	Models         models.ModelFlags
}

// Backtest holds out the most recent (1 - split) of the series, forecasts it
// from the remainder and scores the predictions. Only a single split is run.
func (e *Engine) Backtest(series *models.MetricSeries, opts BacktestOptions) (*models.BacktestResult, error) {
	n := series.Len()
	if n < e.config.MinBacktestPoints {
		return nil, errors.NewInsufficientDataError(series.MetricName, e.config.MinBacktestPoints, n)
	}

	trainSize := int(math.Floor(float64(n) * opts.TrainTestSplit))
	if trainSize < e.config.MinForecastPoints {
		return nil, errors.NewInsufficientDataError(series.MetricName, e.config.MinForecastPoints, trainSize).
			WithDetails("training slice is too short")
	}
	if trainSize >= n {
		return nil, errors.NewValidationError(errors.CodeOutOfRange, "train/test split leaves no test data")
	}

	train := series.Slice(0, trainSize)
	test := series.Slice(trainSize, n)
	testSize := test.Len()

	diag, err := e.Diagnose(train)
	if err != nil {
		return nil, err
	}
	fit, err := e.fitEnsemble(train.Values(), testSize, e.seasonalPeriod(diag.Seasonality, trainSize), opts.Models)
	if err != nil {
		return nil, err
	}

	actual := test.Values()
	mae, rmse, mape := accuracyMetrics(actual, fit.Predictions)

	predictions := make([]models.BacktestPoint, testSize)
	for i, obs := range test.Observations {
		predictions[i] = models.BacktestPoint{
			Timestamp: obs.Timestamp,
			Actual:    obs.Value,
			Predicted: fit.Predictions[i],
		}
	}

	e.logger.WithFields(logrus.Fields{
		"metric":     series.MetricName,
		"train_size": trainSize,
		"test_size":  testSize,
		"mape":       mape,
	}).Debug("Backtest completed")

	return &models.BacktestResult{
		Metric:      series.MetricName,
		TrainSize:   trainSize,
		TestSize:    testSize,
		MAE:         mae,
		RMSE:        rmse,
		MAPE:        mape,
		Accuracy:    math.Max(0, 100-mape),
		Predictions: predictions,
	}, nil
}

// accuracyMetrics returns MAE, RMSE and MAPE (in percent). Zero actuals are
// excluded from MAPE; if every actual is zero MAPE is 0.
func accuracyMetrics(actual, predicted []float64) (mae, rmse, mape float64) {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return 0, 0, 0
	}

	var absSum, sqSum, pctSum float64
	pctCount := 0
	for i := 0; i < n; i++ {
		diff := actual[i] - predicted[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		if actual[i] != 0 {
			pctSum += math.Abs(diff / actual[i])
			pctCount++
		}
	}

	mae = absSum / float64(n)
	rmse = math.Sqrt(sqSum / float64(n))
	if pctCount > 0 {
		mape = pctSum / float64(pctCount) * 100
	}
	return mae, rmse, mape
}
