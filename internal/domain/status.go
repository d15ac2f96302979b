// Package domain defines the core types, status codes, and interfaces for
// the wildcall analysis engine. All other packages depend on domain;
// domain depends on nothing internal.
package domain

import "errors"

// Status is one of the core's status codes (spec §6). Every public
// operation that can fail returns one of these, never a bare error.
type Status int

const (
	// StatusOK indicates the operation completed successfully.
	StatusOK Status = iota
	// StatusInvalidParams indicates a caller-provided value was outside
	// its documented range.
	StatusInvalidParams
	// StatusSessionNotFound indicates the session id does not refer to
	// a live session.
	StatusSessionNotFound
	// StatusFileNotFound indicates the requested reference identifier
	// could not be resolved.
	StatusFileNotFound
	// StatusProcessingError indicates an internal DSP step failed in a
	// way the caller cannot correct.
	StatusProcessingError
	// StatusInsufficientData indicates the operation is well-formed but
	// not enough audio has been processed to answer.
	StatusInsufficientData
	// StatusOutOfMemory indicates an allocation failed.
	StatusOutOfMemory
	// StatusInitFailed indicates a session or component could not
	// complete initialization.
	StatusInitFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidParams:
		return "INVALID_PARAMS"
	case StatusSessionNotFound:
		return "SESSION_NOT_FOUND"
	case StatusFileNotFound:
		return "FILE_NOT_FOUND"
	case StatusProcessingError:
		return "PROCESSING_ERROR"
	case StatusInsufficientData:
		return "INSUFFICIENT_DATA"
	case StatusOutOfMemory:
		return "OUT_OF_MEMORY"
	case StatusInitFailed:
		return "INIT_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Error pairs a Status with a human-readable message and, optionally, a
// wrapped cause. It is the only error type the core returns.
type Error struct {
	Status  Status
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error for the given status and message.
func NewError(status Status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Wrap builds an *Error for the given status, wrapping cause.
func Wrap(status Status, message string, cause error) *Error {
	return &Error{Status: status, Message: message, Cause: cause}
}

// StatusOf extracts the Status from err, defaulting to StatusOK for a
// nil error and StatusProcessingError for any error that isn't one of
// ours.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Status
	}
	return StatusProcessingError
}

// Sentinel errors for errors.Is-style comparison against a bare Status.
var (
	ErrInvalidParams    = NewError(StatusInvalidParams, "invalid parameters")
	ErrSessionNotFound  = NewError(StatusSessionNotFound, "session not found")
	ErrFileNotFound     = NewError(StatusFileNotFound, "reference file not found")
	ErrProcessingError  = NewError(StatusProcessingError, "processing error")
	ErrInsufficientData = NewError(StatusInsufficientData, "insufficient data")
	ErrOutOfMemory      = NewError(StatusOutOfMemory, "out of memory")
	ErrInitFailed       = NewError(StatusInitFailed, "initialization failed")
)

// Is reports whether target is an *Error with the same Status as e,
// satisfying the errors.Is contract used by the sentinels above.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Status == t.Status
}
