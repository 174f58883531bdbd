// Package apperr defines the application error taxonomy shared by the
// lifecycle, relay, and API layers. Every error that crosses a component
// boundary is an *Error carrying a machine-readable code; the API layer maps
// codes to HTTP statuses and the websocket layer maps them to error events.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies the category of an application error.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeUnavailable      Code = "UNAVAILABLE"
	CodeInternal         Code = "INTERNAL"
)

// Error is an application error with a category code and optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with the given code and message wrapping a cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error { return New(CodeInvalidArgument, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Conflict(msg string) error { return New(CodeAlreadyExists, msg) }

func Forbidden(msg string) error { return New(CodePermissionDenied, msg) }

func Unauthenticated(msg string) error { return New(CodeUnauthenticated, msg) }

// External marks a failure of an outside collaborator (translation backend).
// The relay always absorbs these; they never reach a caller.
func External(msg string, cause error) error {
	return Wrap(CodeUnavailable, msg, cause)
}

// Persistence marks a storage failure. Pipelines abort on these and the
// caller sees an internal failure with no partial side effects.
func Persistence(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
