package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	err := NewValidationError(CodeOutOfRange, "horizon is out of range")
	assert.Equal(t, "OUT_OF_RANGE: horizon is out of range", err.Error())

	err.WithDetails("expected [1, 365]")
	assert.Equal(t, "OUT_OF_RANGE: horizon is out of range - expected [1, 365]", err.Error())
}

func TestAppErrorMatching(t *testing.T) {
	err := NewInsufficientDataError("revenue", 20, 7)

	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.True(t, errors.Is(err, NewInsufficientDataError("orders", 60, 1)))
	assert.False(t, errors.Is(err, ErrNoData))

	wrapped := fmt.Errorf("forecast failed: %w", err)
	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "revenue", appErr.Context["metric"])
	assert.Contains(t, appErr.Message, "at least 20")
	assert.True(t, IsAppError(wrapped))
	assert.False(t, IsAppError(errors.New("plain")))
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", NewValidationError(CodeInvalidInput, "bad"), http.StatusBadRequest},
		{"field validation", NewFieldValidationError("metrics", "required", nil, nil), http.StatusBadRequest},
		{"insufficient data", NewInsufficientDataError("revenue", 60, 59), http.StatusUnprocessableEntity},
		{"no data", NewNoDataError("revenue"), http.StatusUnprocessableEntity},
		{"storage", WrapStorageError(errors.New("refused"), "connect", "influxdb"), http.StatusServiceUnavailable},
		{"unknown backend", NewUnknownBackendError("cassandra"), http.StatusBadRequest},
		{"configuration", NewConfigurationError(CodeInvalidConfig, "bad"), http.StatusServiceUnavailable},
		{"computation", NewComputationError("diverged"), http.StatusInternalServerError},
		{"sentinel", fmt.Errorf("wrap: %w", ErrNonFiniteValue), http.StatusBadRequest},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.err))
		})
	}
}

func TestWrapStorageError(t *testing.T) {
	assert.Nil(t, WrapStorageError(nil, "fetch", "s3"))

	readErr := WrapStorageError(errors.New("no such key"), "fetch", "s3").WithTarget("exports/revenue.json")
	assert.Equal(t, CodeReadFailed, readErr.Code)
	assert.Equal(t, "exports/revenue.json", readErr.Target)
	assert.True(t, errors.Is(readErr, ErrStorageReadFailed))
	assert.False(t, readErr.ShouldRetry())

	connErr := WrapStorageError(errors.New("refused"), "connect", "redis")
	assert.True(t, errors.Is(connErr, ErrStorageConnectionFailed))
	assert.True(t, connErr.ShouldRetry())

	timeoutErr := WrapStorageError(context.DeadlineExceeded, "store", "redis")
	assert.Equal(t, CodeWriteFailed, timeoutErr.Code)
	assert.True(t, errors.Is(timeoutErr, ErrStorageTimeout))
	assert.True(t, timeoutErr.ShouldRetry())
}

func TestValidationBuilder(t *testing.T) {
	assert.NoError(t, NewValidationBuilder().
		SetField("horizonDays").IntRange(30, 1, 365).
		SetField("metrics").NotEmpty([]string{"revenue"}).
		Build())

	single := NewValidationBuilder().SetField("confidenceLevel").Range(1.2, 0.8, 0.99).Build()
	var fieldErr *ValidationError
	require.ErrorAs(t, single, &fieldErr)
	assert.Equal(t, "confidenceLevel", fieldErr.Field)
	assert.Equal(t, "range", fieldErr.Rule)
	assert.Equal(t, 1.2, fieldErr.Value)

	multi := NewValidationBuilder().
		SetField("action").OneOf("simulate", "forecast", "backtest").
		SetField("metrics").NotEmpty([]string{"", "  "}).
		SetField("startDate").Check(false, CodeInvalidFormat, "startDate must be an ISO-8601 date").
		Build()
	var multiErr *MultiValidationError
	require.ErrorAs(t, multi, &multiErr)
	assert.Len(t, multiErr.Errors, 3)
	assert.Len(t, multiErr.FieldErrors, 3)
	assert.Contains(t, multiErr.Details, "must be one of forecast, backtest")
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatus(multi))
}
