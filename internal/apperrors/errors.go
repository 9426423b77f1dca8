// Package apperrors provides the coded error taxonomy shared by the sync,
// history and HTTP layers.
package apperrors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error that carries no code.
	CodeUnknown Code = "UNKNOWN"
	// CodeValidation is returned when a required field is missing or malformed.
	CodeValidation Code = "VALIDATION"
	// CodeUnauthenticated is returned for missing, invalid or mismatched credentials.
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	// CodeConflict is returned when a concurrent write lost the race.
	CodeConflict Code = "CONFLICT"
	// CodeInternal is returned for unexpected storage failures.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Safe to show to callers, except for CodeInternal
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is.
var (
	ErrValidation      = New(CodeValidation, "validation failed")
	ErrUnauthenticated = New(CodeUnauthenticated, "unauthenticated")
	ErrConflict        = New(CodeConflict, "conflict")
	ErrInternal        = New(CodeInternal, "internal error")
)

// CodeOf extracts the code from err, or CodeUnknown when err is not coded.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// PublicMessage returns the message that may be shown to a caller. Internal
// and uncoded errors never leak their detail.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal && e.Code != CodeUnknown {
		return e.Message
	}
	return "internal error"
}
