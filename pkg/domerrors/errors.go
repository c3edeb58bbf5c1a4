// Package domerrors defines the closed set of error kinds the registry core
// can fail with. Callers branch on codes, never on message text.
package domerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a kind of domain failure.
type Code string

const (
	// CodeNotFound signals that a referenced entity is absent.
	CodeNotFound Code = "not_found"
	// CodeDuplicate signals a uniqueness violation.
	CodeDuplicate Code = "duplicate"
	// CodeEqualIdentities signals a no-op merge or move request.
	CodeEqualIdentities Code = "equal_identities"
	// CodeInvalidValue signals an out-of-range or malformed field.
	CodeInvalidValue Code = "invalid_value"
	// CodeInvalidPeriod signals an enrollment period whose start is after
	// its end, or bounds outside the supported range.
	CodeInvalidPeriod Code = "invalid_period"
	// CodeInvalidFilter signals a malformed query-layer filter.
	CodeInvalidFilter Code = "invalid_filter"
	// CodeConflict signals a store-level concurrency conflict. The
	// operation changed nothing and may be retried.
	CodeConflict Code = "conflict"
	// CodeInternal covers unexpected failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message and an optional cause.
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

// New builds a domain error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf extracts the domain code from an error chain, defaulting to
// CodeInternal for plain errors.
func CodeOf(err error) Code {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code
	}
	return CodeInternal
}

// Retryable reports whether the failure is a transient store conflict.
func Retryable(err error) bool {
	return Is(err, CodeConflict)
}

// ToHTTPStatus maps a code to the status the transport layer should return.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicate, CodeEqualIdentities, CodeConflict:
		return http.StatusConflict
	case CodeInvalidValue, CodeInvalidPeriod, CodeInvalidFilter:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
