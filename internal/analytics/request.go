package analytics

import (
	"time"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
	"github.com/inferloop/tsforecast/pkg/models"
)

// ApplyDefaults fills zero-valued request fields. Model flags default to
// enabled through their nil state.
func ApplyDefaults(req *models.AnalysisRequest) {
	if req.Action == "" {
		req.Action = constants.ActionForecast
	}
	if len(req.Metrics) == 0 {
		req.Metrics = append([]string(nil), constants.DefaultMetrics...)
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = constants.DefaultHorizonDays
	}
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = constants.DefaultConfidenceLevel
	}
	if req.Validation.TrainTestSplit == 0 {
		req.Validation.TrainTestSplit = constants.DefaultTrainTestSplit
	}
	if req.Validation.CrossValidationFolds == 0 {
		req.Validation.CrossValidationFolds = constants.DefaultCrossValidationFolds
	}
}

// ValidateRequest rejects out-of-range parameters before any computation
func ValidateRequest(req *models.AnalysisRequest) error {
	vb := errors.NewValidationBuilder()

	vb.SetField("action").OneOf(req.Action,
		constants.ActionForecast, constants.ActionInsights, constants.ActionAnomalies,
		constants.ActionBacktest, constants.ActionStatistics)
	vb.SetField("metrics").NotEmpty(req.Metrics)
	vb.SetField("horizonDays").IntRange(req.HorizonDays, constants.MinHorizonDays, constants.MaxHorizonDays)
	vb.SetField("confidenceLevel").Range(req.ConfidenceLevel, constants.MinConfidenceLevel, constants.MaxConfidenceLevel)
	vb.SetField("validation.trainTestSplit").Range(req.Validation.TrainTestSplit,
		constants.MinTrainTestSplit, constants.MaxTrainTestSplit)
	vb.SetField("validation.crossValidationFolds").IntRange(req.Validation.CrossValidationFolds,
		constants.MinCrossValidationFolds, constants.MaxCrossValidationFolds)

	start, startErr := parseOptionalDate(req.StartDate)
	vb.SetField("startDate").Check(startErr == nil, errors.CodeInvalidFormat, "startDate must be an ISO-8601 date")
	end, endErr := parseOptionalDate(req.EndDate)
	vb.SetField("endDate").Check(endErr == nil, errors.CodeInvalidFormat, "endDate must be an ISO-8601 date")
	if startErr == nil && endErr == nil && start != nil && end != nil {
		vb.SetField("startDate").Check(!start.After(*end), errors.CodeInvalidTimeRange,
			"startDate must not be after endDate")
	}

	return vb.Build()
}

// ResolveTimeRange turns the request dates into a concrete window. Missing
// dates default to the trailing lookback window ending at now.
func ResolveTimeRange(req *models.AnalysisRequest, now time.Time, lookbackDays int) (*models.TimeRange, error) {
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidFormat, err.Error())
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidFormat, err.Error())
	}

	tr := &models.TimeRange{End: now.UTC()}
	if end != nil {
		tr.End = *end
	}
	if start != nil {
		tr.Start = *start
	} else {
		tr.Start = tr.End.AddDate(0, 0, -lookbackDays)
	}
	if tr.Start.After(tr.End) {
		return nil, errors.ErrValidationTimeRangeInvalid
	}
	return tr, nil
}

// ExplicitTimeRange returns the range only when the request names a date.
// Inline observations are filtered by it and are otherwise used as supplied.
func ExplicitTimeRange(req *models.AnalysisRequest) (*models.TimeRange, error) {
	if req.StartDate == "" && req.EndDate == "" {
		return nil, nil
	}
	start, err := parseOptionalDate(req.StartDate)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidFormat, err.Error())
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidFormat, err.Error())
	}
	tr := &models.TimeRange{End: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	if start != nil {
		tr.Start = *start
	}
	if end != nil {
		tr.End = *end
	}
	return tr, nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ts, err := models.ParseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
