// Package apperr implements the gateway's structured error taxonomy
// (spec §7): a single {code, message, retry_after_ms} object returned to
// callers, generalizing the upstream codebase's common.Error pattern.
package apperr

import "fmt"

// Code is one of the four caller-facing error kinds.
type Code string

const (
	CodeBadRequest Code = "bad_request"
	CodeUnavailable Code = "unavailable"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal"
)

// Error is the structured error object surfaced to callers.
type Error struct {
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs *int   `json:"retry_after_ms,omitempty"`
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRetryAfter sets a retry hint in milliseconds and returns e.
func (e *Error) WithRetryAfter(ms int) *Error {
	e.RetryAfterMs = &ms
	return e
}

// IsEmpty reports whether e represents "no error".
func (e *Error) IsEmpty() bool {
	return e == nil || e.Code == ""
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// BadRequest is a convenience constructor for invalid-input failures.
func BadRequest(format string, args ...any) *Error {
	return Newf(CodeBadRequest, format, args...)
}

// Unavailable is a convenience constructor for exhausted-retry/open-breaker
// failures with no safe fallback.
func Unavailable(format string, args ...any) *Error {
	return Newf(CodeUnavailable, format, args...)
}

// Internal is a convenience constructor for invariant violations. Callers
// must log the underlying cause at error level before returning this; the
// process itself must never crash on it.
func Internal(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Timeout is a convenience constructor for deadline-exceeded failures.
func Timeout(format string, args ...any) *Error {
	return Newf(CodeTimeout, format, args...)
}
