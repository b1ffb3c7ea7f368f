// Package apperr defines the error taxonomy shared by the service and HTTP
// layers. Each error carries a Kind which maps to exactly one HTTP status, so
// handlers never decide status codes themselves.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindPersistence
	KindAmbiguity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindPersistence:
		return "persistence"
	case KindAmbiguity:
		return "ambiguity"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type produced by this package.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error.
func (e *Error) Status() int { return e.Kind.Status() }

// PublicMessage is the message safe to return to a client. Server-side
// faults never expose their cause.
func (e *Error) PublicMessage() string {
	if e.Status() >= http.StatusInternalServerError {
		return http.StatusText(http.StatusInternalServerError)
	}
	return e.Message
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// Ambiguity reports a violated structural invariant, e.g. two rows where the
// schema allows at most one.
func Ambiguity(format string, args ...interface{}) *Error {
	return newf(KindAmbiguity, format, args...)
}

// Persistence wraps a storage failure.
func Persistence(err error, format string, args ...interface{}) *Error {
	e := newf(KindPersistence, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsDomain reports whether err is a client-facing domain error that must be
// passed through unchanged rather than wrapped as a persistence failure.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindUnauthorized, KindForbidden, KindAmbiguity:
		return true
	}
	return false
}
