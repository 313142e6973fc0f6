// Package cerrors defines the application error taxonomy shared by the
// store, checkpoint, scheduler and CLI layers.
package cerrors

import (
	"errors"
	"fmt"
)

// Error codes for the application. The three after CodeUnknown map directly
// onto the fatal error categories a compaction run can hit: malformed input found
// while walking the backing store, a rewrite that would resolve state
// differently than the original graph, and I/O failure against the
// backing store itself.
const (
	CodeUnknown              = "UNKNOWN_ERROR"
	CodeInconsistentInput    = "INCONSISTENT_INPUT"
	CodeEquivalenceViolation = "EQUIVALENCE_VIOLATION"
	CodeBackingStoreError    = "BACKING_STORE_ERROR"
	CodeCheckpointError      = "CHECKPOINT_ERROR"
	CodeConfigError          = "CONFIG_ERROR"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeTimeout              = "TIMEOUT_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeEmitError            = "EMIT_ERROR"
)

// AppError represents an application error carrying a stable code, a
// human message, and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is compares by Code so errors.Is(err, cerrors.ErrBackingStoreError) matches
// any backing-store error regardless of message or wrapped cause.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError with no wrapped cause.
func New(code string, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to an existing error.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code string, err error, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Common error instances, used as errors.Is targets.
var (
	ErrInconsistentInput    = New(CodeInconsistentInput, "backing store graph is inconsistent")
	ErrEquivalenceViolation = New(CodeEquivalenceViolation, "rewrite would change resolved state")
	ErrBackingStoreError    = New(CodeBackingStoreError, "backing store I/O error")
	ErrCheckpointError      = New(CodeCheckpointError, "checkpoint store error")
	ErrConfigError          = New(CodeConfigError, "configuration error")
	ErrInvalidInput         = New(CodeInvalidInput, "invalid input")
	ErrTimeout              = New(CodeTimeout, "operation timeout")
	ErrNotFound             = New(CodeNotFound, "resource not found")
	ErrEmitError            = New(CodeEmitError, "sql emission error")
)

// IsInconsistentInput reports whether err is (or wraps) a malformed backing
// store graph (missing predecessor, non-contiguous levels, and similar).
func IsInconsistentInput(err error) bool {
	return errors.Is(err, ErrInconsistentInput)
}

// IsEquivalenceViolation reports whether err is (or wraps) a rewrite that
// would resolve state differently than the original graph. A chunk that
// fails this check must never be written.
func IsEquivalenceViolation(err error) bool {
	return errors.Is(err, ErrEquivalenceViolation)
}

// IsBackingStoreError reports whether err is (or wraps) a connection, query
// or transaction failure against the backing store. The caller should leave
// the checkpoint untouched so a later run retries the same chunk.
func IsBackingStoreError(err error) bool {
	return errors.Is(err, ErrBackingStoreError)
}

// IsCheckpointError reports whether err is (or wraps) a checkpoint store error.
func IsCheckpointError(err error) bool {
	return errors.Is(err, ErrCheckpointError)
}

// GetErrorCode extracts the error code from err, or CodeUnknown if err is not an AppError.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the AppError message from err, falling back to err.Error().
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
