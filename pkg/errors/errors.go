package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common application errors
var (
	// Input errors
	ErrInvalidInputData     = errors.New("invalid input data")
	ErrInvalidTimeRange     = errors.New("invalid time range: start date must be before end date")
	ErrInvalidParameters    = errors.New("invalid analysis parameters")
	ErrNonFiniteValue       = errors.New("observation value is not a finite number")
	ErrNoMetrics            = errors.New("no metrics specified")
	ErrUnknownAction        = errors.New("unknown analysis action")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Data errors
	ErrNoData           = errors.New("no data")
	ErrInsufficientData = errors.New("insufficient data")

	// Storage errors
	ErrStorageNotFound         = errors.New("storage backend not found")
	ErrStorageConnectionFailed = errors.New("storage connection failed")
	ErrStorageReadFailed       = errors.New("storage read failed")
	ErrStorageWriteFailed      = errors.New("storage write failed")
	ErrStorageTimeout          = errors.New("storage operation timeout")

	// Internal errors
	ErrComputation = errors.New("computation failed")
	ErrInternal    = errors.New("internal error")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeInsufficientData ErrorType = "insufficient_data"
	ErrorTypeStorage          ErrorType = "storage"
	ErrorTypeConfiguration    ErrorType = "configuration"
	ErrorTypeComputation      ErrorType = "computation"
	ErrorTypeInternal         ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	e.Retryable = isRetryable(err)
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      err,
		Retryable:  isRetryable(err),
		HTTPStatus: getDefaultHTTPStatus(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewAppError(ErrorTypeValidation, code, message).WithCause(ErrInvalidParameters)
}

// NewInsufficientDataError reports that fewer than required points were available.
// The required minimum is carried in both the message and the context.
func NewInsufficientDataError(metric string, required, actual int) *AppError {
	msg := fmt.Sprintf("insufficient data: at least %d data points required, got %d", required, actual)
	if metric != "" {
		msg = fmt.Sprintf("insufficient data for %s: at least %d data points required, got %d", metric, required, actual)
	}
	return NewAppError(ErrorTypeInsufficientData, CodeInsufficientData, msg).
		WithCause(ErrInsufficientData).
		WithContext("metric", metric).
		WithContext("required", required).
		WithContext("actual", actual)
}

// NewNoDataError reports an empty series.
func NewNoDataError(metric string) *AppError {
	msg := "no data points available"
	if metric != "" {
		msg = fmt.Sprintf("no data points available for %s", metric)
	}
	return NewAppError(ErrorTypeInsufficientData, CodeNoData, msg).
		WithCause(ErrNoData).
		WithContext("metric", metric)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewAppError(ErrorTypeStorage, code, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message).WithCause(ErrInvalidConfiguration)
}

// NewComputationError creates a computation fault
func NewComputationError(message string) *AppError {
	return NewAppError(ErrorTypeComputation, CodeComputationFailed, message).WithCause(ErrComputation)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      ErrInternal,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// IsAppError reports whether err is or wraps an *AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError returns the first *AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus maps an error to the status code returned to API callers
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	switch {
	case errors.Is(err, ErrInvalidParameters), errors.Is(err, ErrInvalidInputData),
		errors.Is(err, ErrNonFiniteValue), errors.Is(err, ErrInvalidTimeRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientData), errors.Is(err, ErrNoData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// getDefaultHTTPStatus returns the default HTTP status for an error type
func getDefaultHTTPStatus(errType ErrorType) int {
	switch errType {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeInsufficientData:
		return http.StatusUnprocessableEntity
	case ErrorTypeStorage, ErrorTypeConfiguration:
		return http.StatusServiceUnavailable
	case ErrorTypeComputation, ErrorTypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// isRetryable determines if an error is retryable
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrStorageTimeout):
		return true
	case errors.Is(err, ErrStorageConnectionFailed):
		return true
	default:
		return false
	}
}

// Error codes for different error scenarios
const (
	// Validation error codes
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"
	CodeInvalidFormat    = "INVALID_FORMAT"
	CodeOutOfRange       = "OUT_OF_RANGE"
	CodeInvalidTimeRange = "INVALID_TIME_RANGE"
	CodeInvalidAction    = "INVALID_ACTION"
	CodeNonFiniteValue   = "NON_FINITE_VALUE"

	// Data error codes
	CodeNoData           = "NO_DATA"
	CodeInsufficientData = "INSUFFICIENT_DATA"

	// Storage error codes
	CodeStorageError     = "STORAGE_ERROR"
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeReadFailed       = "READ_FAILED"
	CodeWriteFailed      = "WRITE_FAILED"
	CodeUnknownBackend   = "UNKNOWN_BACKEND"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal error codes
	CodeComputationFailed = "COMPUTATION_FAILED"
	CodeInternalError     = "INTERNAL_ERROR"
)
