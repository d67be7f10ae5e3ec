package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StorageError represents a storage-specific error with additional context
type StorageError struct {
	*AppError
	StorageType string        `json:"storage_type,omitempty"` // "influxdb", "timescaledb", "s3", "redis", "file"
	Operation   string        `json:"operation,omitempty"`    // "connect", "fetch", "store"
	Target      string        `json:"target,omitempty"`       // bucket, table, key or path
	Duration    time.Duration `json:"duration,omitempty"`
}

// Unwrap exposes the embedded AppError.
func (se *StorageError) Unwrap() error {
	return se.AppError
}

// WrapStorageError wraps a backend error with the operation that failed
func WrapStorageError(err error, operation, storageType string) *StorageError {
	if err == nil {
		return nil
	}

	code := CodeStorageError
	cause := err
	switch operation {
	case "connect":
		code = CodeConnectionFailed
		cause = fmt.Errorf("%w: %v", ErrStorageConnectionFailed, err)
	case "fetch":
		code = CodeReadFailed
		cause = fmt.Errorf("%w: %v", ErrStorageReadFailed, err)
	case "store":
		code = CodeWriteFailed
		cause = fmt.Errorf("%w: %v", ErrStorageWriteFailed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		cause = fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}

	return &StorageError{
		AppError: WrapError(cause, ErrorTypeStorage, code,
			fmt.Sprintf("%s %s operation failed", storageType, operation)),
		StorageType: storageType,
		Operation:   operation,
	}
}

// NewUnknownBackendError reports a storage type the factory cannot build
func NewUnknownBackendError(storageType string) *StorageError {
	appErr := NewStorageError(CodeUnknownBackend, fmt.Sprintf("unsupported storage backend %q", storageType))
	appErr.Cause = ErrStorageNotFound
	appErr.HTTPStatus = 400
	return &StorageError{
		AppError:    appErr,
		StorageType: storageType,
	}
}

// WithTarget records the bucket, table, key or path involved
func (se *StorageError) WithTarget(target string) *StorageError {
	se.Target = target
	return se
}

// WithDuration adds duration information to the storage error
func (se *StorageError) WithDuration(duration time.Duration) *StorageError {
	se.Duration = duration
	return se
}

// ShouldRetry checks if the operation should be retried based on the error
func (se *StorageError) ShouldRetry() bool {
	return se.Retryable
}
