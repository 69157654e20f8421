// Package domainerrors provides coded errors that travel from services to the
// transport layer. Stores return sentinel errors; services translate them into
// coded errors here so handlers can map a code straight to an HTTP status.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies a domain error. Codes are stable API: handlers and tests
// match on them, never on message text.
type Code string

const (
	CodeBadRequest        Code = "bad_request"
	CodeInvalidInput      Code = "invalid_input"
	CodeUnauthorized      Code = "unauthorized"
	CodeForbidden         Code = "forbidden"
	CodeNotFound          Code = "not_found"
	CodeTokenInvalid      Code = "token_invalid"
	CodeEventMismatch     Code = "event_mismatch"
	CodeAlreadyInProgress Code = "already_in_progress"
	CodePartialFailure    Code = "partial_failure"
	CodeTimeout           Code = "timeout"
	CodeInternal          Code = "internal"
)

// Error is a coded domain error. It is a value type so two errors built with
// the same code and message compare equal under errors.Is, which keeps service
// tests free of string matching.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func New(code Code, message string) Error {
	return Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause. The cause stays
// reachable through errors.Unwrap for logging; equality matching ignores it.
func Wrap(err error, code Code, message string) Error {
	return Error{Code: code, Message: message, cause: err}
}

func (e Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e Error) Unwrap() error { return e.cause }

// Is matches on code, and on message only when the target specifies one.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	var de Error
	return errors.As(err, &de) && de.Code == code
}

// HasCode is an alias for Is kept for call-site readability in assertions.
func HasCode(err error, code Code) bool { return Is(err, code) }

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeForbidden, CodeEventMismatch:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyInProgress:
		return http.StatusConflict
	case CodePartialFailure, CodeTimeout, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
