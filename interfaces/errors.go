package interfaces

import (
	"errors"
	"fmt"
)

// ErrorCode classifies storage failures so callers can branch on the kind of
// failure without inspecting backend-specific error types.
type ErrorCode string

const (
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodePermission     ErrorCode = "PERMISSION_DENIED"
	ErrCodeConnection     ErrorCode = "CONNECTION_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeQuotaExceeded  ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeInvalidPath    ErrorCode = "INVALID_PATH"
	ErrCodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrCodeChecksum       ErrorCode = "CHECKSUM_MISMATCH"
	ErrCodeUnsupported    ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeUnknown        ErrorCode = "UNKNOWN_ERROR"
	ErrCodeUnknownBackend ErrorCode = "UNKNOWN_BACKEND"
)

// Retryable reports whether the class of failure is likely to succeed on a
// subsequent attempt. Not-found, permission and validation failures are final.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeConnection, ErrCodeTimeout, ErrCodeQuotaExceeded, ErrCodeUnknown:
		return true
	default:
		return false
	}
}

// StorageError is the error type returned by every storage provider. It
// carries the operation and logical path for logging, wraps the transport
// error for errors.Is/As, and classifies the failure with an ErrorCode.
type StorageError struct {
	Code ErrorCode
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %q: %v", e.Code, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s %q", e.Code, e.Op, e.Path)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError builds a classified storage error. The wrapped err may be
// nil when the condition has no underlying transport error.
func NewStorageError(code ErrorCode, op, path string, err error) *StorageError {
	return &StorageError{Code: code, Op: op, Path: path, Err: err}
}

// CodeOf extracts the error code from err, or ErrCodeUnknown when err does
// not carry one.
func CodeOf(err error) ErrorCode {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}

// IsNotFound reports whether err indicates a missing object.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code.Retryable()
	}
	return false
}

var (
	// ErrUnknownBackend is returned by the factory for an unrecognized
	// backend tag.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrDestinationExists is returned by Upload when overwriting is
	// disabled and the destination path already holds an object. Providers
	// wrap it with ErrCodeAlreadyExists so it is never retried.
	ErrDestinationExists = errors.New("destination already exists")
)
