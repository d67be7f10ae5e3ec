package errors

import (
	"fmt"
	"strings"
)

// Validation-specific error definitions
var (
	ErrValidationMetricsEmpty      = NewValidationError("METRICS_EMPTY", "at least one metric is required")
	ErrValidationActionInvalid     = NewValidationError(CodeInvalidAction, "action must be one of forecast, insights, anomalies, backtest, statistics")
	ErrValidationTimeRangeInvalid  = NewValidationError(CodeInvalidTimeRange, "start date must be before end date")
	ErrValidationValueNotFinite    = NewValidationError(CodeNonFiniteValue, "observation value must be a finite number")
	ErrValidationTimestampMissing  = NewValidationError(CodeMissingField, "observation timestamp is required")
	ErrValidationHorizonOutOfRange = NewValidationError(CodeOutOfRange, "horizon is out of range")
	ErrValidationConfidenceInvalid = NewValidationError(CodeOutOfRange, "confidence level is out of range")
	ErrValidationSplitOutOfRange   = NewValidationError(CodeOutOfRange, "train/test split is out of range")
	ErrValidationFoldsOutOfRange   = NewValidationError(CodeOutOfRange, "cross-validation folds are out of range")
	ErrValidationUnsupportedFormat = NewValidationError(CodeInvalidFormat, "unsupported input format")
)

// ValidationError represents a validation-specific error with field-level details
type ValidationError struct {
	*AppError
	Field    string      `json:"field,omitempty"`
	Value    interface{} `json:"value,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Rule     string      `json:"rule,omitempty"`
}

// Unwrap exposes the embedded AppError so errors.As and GetHTTPStatus see it.
func (ve *ValidationError) Unwrap() error {
	return ve.AppError
}

// MultiValidationError collects every field failure from one validation pass
type MultiValidationError struct {
	*AppError
	Errors      []*ValidationError  `json:"errors"`
	FieldErrors map[string][]string `json:"field_errors"`
}

// Unwrap exposes the embedded AppError.
func (mve *MultiValidationError) Unwrap() error {
	return mve.AppError
}

// NewFieldValidationError creates a field-specific validation error
func NewFieldValidationError(field, rule string, value, expected interface{}) *ValidationError {
	return &ValidationError{
		AppError: NewValidationError("FIELD_VALIDATION_ERROR",
			fmt.Sprintf("field '%s' validation failed: %s", field, rule)),
		Field:    field,
		Value:    value,
		Expected: expected,
		Rule:     rule,
	}
}

// NewMultiValidationError creates a multi-validation error
func NewMultiValidationError(errs []*ValidationError) *MultiValidationError {
	fieldErrors := make(map[string][]string)
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
		messages = append(messages, err.Message)
	}

	appErr := NewValidationError("MULTIPLE_VALIDATION_ERRORS",
		fmt.Sprintf("multiple validation errors: %d errors", len(errs))).
		WithDetails(strings.Join(messages, "; "))

	return &MultiValidationError{
		AppError:    appErr,
		Errors:      errs,
		FieldErrors: fieldErrors,
	}
}

// ValidationBuilder accumulates field checks and reports them together
type ValidationBuilder struct {
	errors []*ValidationError
	field  string
}

// NewValidationBuilder creates a new validation builder
func NewValidationBuilder() *ValidationBuilder {
	return &ValidationBuilder{
		errors: make([]*ValidationError, 0),
	}
}

// SetField sets the current field for subsequent validations
func (vb *ValidationBuilder) SetField(field string) *ValidationBuilder {
	vb.field = field
	return vb
}

// NotEmpty validates that a list has at least one non-blank element
func (vb *ValidationBuilder) NotEmpty(values []string) *ValidationBuilder {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return vb
		}
	}
	vb.add("FIELD_REQUIRED", fmt.Sprintf("field '%s' is required", vb.field), values, nil, "required")
	return vb
}

// Range validates a float range, inclusive on both ends
func (vb *ValidationBuilder) Range(value, min, max float64) *ValidationBuilder {
	if value < min || value > max {
		vb.add(CodeOutOfRange,
			fmt.Sprintf("field '%s' is out of range [%.2f, %.2f]", vb.field, min, max),
			value, fmt.Sprintf("[%.2f, %.2f]", min, max), "range")
	}
	return vb
}

// IntRange validates an integer range, inclusive on both ends
func (vb *ValidationBuilder) IntRange(value, min, max int) *ValidationBuilder {
	if value < min || value > max {
		vb.add(CodeOutOfRange,
			fmt.Sprintf("field '%s' is out of range [%d, %d]", vb.field, min, max),
			value, fmt.Sprintf("[%d, %d]", min, max), "range")
	}
	return vb
}

// OneOf validates membership in a fixed set
func (vb *ValidationBuilder) OneOf(value string, allowed ...string) *ValidationBuilder {
	for _, a := range allowed {
		if value == a {
			return vb
		}
	}
	vb.add(CodeInvalidInput,
		fmt.Sprintf("field '%s' must be one of %s", vb.field, strings.Join(allowed, ", ")),
		value, allowed, "one_of")
	return vb
}

// Check records a failure when ok is false
func (vb *ValidationBuilder) Check(ok bool, code, message string) *ValidationBuilder {
	if !ok {
		vb.add(code, message, nil, nil, "custom")
	}
	return vb
}

func (vb *ValidationBuilder) add(code, message string, value, expected interface{}, rule string) {
	vb.errors = append(vb.errors, &ValidationError{
		AppError: NewValidationError(code, message),
		Field:    vb.field,
		Value:    value,
		Expected: expected,
		Rule:     rule,
	})
}

// Build returns the validation errors or nil if no errors
func (vb *ValidationBuilder) Build() error {
	switch len(vb.errors) {
	case 0:
		return nil
	case 1:
		return vb.errors[0]
	default:
		return NewMultiValidationError(vb.errors)
	}
}
