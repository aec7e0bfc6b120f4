// Package apperr defines the gateway's closed outcome taxonomy and the
// envelope shape returned by the facade. The set of kinds is intentionally
// small and closed: callers should classify by Kind, not by matching
// substrings in Error().
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the gateway's outcome kinds. Every Invoke call ends in
// exactly one of these.
type Kind string

const (
	Success              Kind = "success"
	ServiceNotRegistered Kind = "service_not_registered"
	BadRequest           Kind = "bad_request"
	Unauthorized         Kind = "unauthorized"
	TransportFailure     Kind = "transport_failure"
	ServiceUnavailable   Kind = "service_unavailable"
	InternalServerError  Kind = "internal_server_error"
)

// StatusCode returns the HTTP-style status code associated with a Kind.
func (k Kind) StatusCode() int {
	switch k {
	case Success:
		return 200
	case ServiceNotRegistered, BadRequest, Unauthorized:
		return 400
	case TransportFailure:
		return 502
	case ServiceUnavailable:
		return 503
	case InternalServerError:
		return 500
	default:
		return 500
	}
}

// Error is the gateway's error type: a Kind plus a human-readable message
// and the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind, chaining cause for errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ServiceNotRegisteredf mirrors the original source's sentence shape
// ("<service> is not register, please register the service") that the
// end-to-end scenario in spec.md §8.2 asserts against.
func ServiceNotRegisteredf(service string) *Error {
	return New(ServiceNotRegistered, fmt.Sprintf("%s is not register, please register the service", service))
}

// AsKind extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to InternalServerError otherwise.
func AsKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalServerError
}
