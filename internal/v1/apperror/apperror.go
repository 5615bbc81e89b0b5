// Package apperror defines the typed error kinds shared across the HTTP API,
// the meeting state machine, and the signaling router. Every domain-level
// failure is constructed here so a single middleware can map it to an HTTP
// status without each handler hand-rolling status codes.
package apperror

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds a caller-facing operation can return.
type Code string

const (
	CodeBadRequest         Code = "BadRequest"
	CodeUnauthenticated    Code = "Unauthenticated"
	CodeForbidden          Code = "Forbidden"
	CodeNotFound           Code = "NotFound"
	CodeGone               Code = "Gone"
	CodeConflict           Code = "Conflict"
	CodeResourceExhausted  Code = "ResourceExhausted"
	CodeFailedPrecondition Code = "FailedPrecondition"
	CodeInternal           Code = "Internal"
	CodeUnavailable        Code = "Unavailable"
)

// Error is the concrete error type produced by domain operations.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches a kind and message to an underlying error, preserving it for
// Unwrap/Is/As chains while giving the caller a stable Code to branch on.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func new_(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return new_(CodeBadRequest, format, args...)
}

func Unauthenticated(format string, args ...any) *Error {
	return new_(CodeUnauthenticated, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return new_(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return new_(CodeNotFound, format, args...)
}

func Gone(format string, args ...any) *Error {
	return new_(CodeGone, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return new_(CodeConflict, format, args...)
}

func ResourceExhausted(format string, args ...any) *Error {
	return new_(CodeResourceExhausted, format, args...)
}

func FailedPrecondition(format string, args ...any) *Error {
	return new_(CodeFailedPrecondition, format, args...)
}

func Internal(format string, args ...any) *Error {
	return new_(CodeInternal, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return new_(CodeUnavailable, format, args...)
}

// CodeOf extracts the Code from err, defaulting to Internal for errors that
// were never classified (e.g. a raw driver error that escaped the repository).
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
