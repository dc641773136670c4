package apperrors

import (
	"errors"
	"fmt"
)

// AppError carries a taxonomy code alongside the underlying cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError without a cause
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf is New with a formatted message
func Newf(code, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to err
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

const (
	CodeInternal              = "INTERNAL_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidIdentifier     = "INVALID_IDENTIFIER"
	CodeOutOfRange            = "OUT_OF_RANGE"
	CodeInvalidChunk          = "INVALID_CHUNK"
	CodeStorageUnavailable    = "STORAGE_UNAVAILABLE"
	CodeLockContended         = "LOCK_CONTENDED"
	CodeSegmentFailed         = "SEGMENT_FAILED"
	CodeDownstreamUnavailable = "DOWNSTREAM_UNAVAILABLE" // retryable, lock is released
	CodeDownstreamRejected    = "DOWNSTREAM_REJECTED"    // terminal for the file
)

// CodeOf returns the code of the outermost AppError in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code string) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsRetryable reports whether the caller may retry the same request later
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStorageUnavailable, CodeDownstreamUnavailable, CodeLockContended:
		return true
	default:
		return false
	}
}

// IsValidation reports whether err was raised by boundary validation
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidIdentifier, CodeOutOfRange, CodeInvalidChunk:
		return true
	default:
		return false
	}
}

// MessageOf returns the client-safe message of the outermost AppError in
// err's chain, or a generic message when there is none.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
