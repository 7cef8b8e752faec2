// Package domainerrors defines the coded error taxonomy surfaced to callers.
// Import with the dErrors alias.
//
// Stores and infrastructure return pkg/platform/sentinel errors; services
// translate those facts into coded errors here. Handlers map codes onto HTTP
// statuses with ToHTTPStatus and never leak internal detail for CodeInternal.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and for the HTTP layer.
type Code string

const (
	// CodeInvalidInput marks caller errors. Never retried.
	CodeInvalidInput Code = "invalid_input"

	// CodeIllegalTransition marks a stage advance whose exit predicate is
	// unmet. The application state is unchanged.
	CodeIllegalTransition Code = "illegal_transition"

	// CodeConcurrentModification marks a lost optimistic-concurrency race.
	// Transient: the caller should re-fetch and retry.
	CodeConcurrentModification Code = "concurrent_modification"

	// CodeValidatorUnavailable marks an external validator that stayed
	// unreachable after the retry budget was exhausted.
	CodeValidatorUnavailable Code = "validator_unavailable"

	// CodeSignatureKeyUnavailable is fatal for issuance: the active signing
	// key cannot be loaded, so no document may be produced.
	CodeSignatureKeyUnavailable Code = "signature_key_unavailable"

	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"
	CodeInternal     Code = "internal_error"
)

// Error is a coded domain error. Construct with New or Wrap.
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

// New creates a coded error with a caller-safe message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error preserving the underlying cause for logs.
func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from an error, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-safe message, empty for uncoded errors.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps an error code onto an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest, CodeIllegalTransition:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeConcurrentModification:
		return http.StatusConflict
	case CodeValidatorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
