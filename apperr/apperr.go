// Package apperr classifies domain errors so the HTTP layer can map them to
// status codes without knowing where they came from.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnexpected Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooLarge
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTooLarge:
		return "too_large"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unexpected"
	}
}

// Error is a classified error. Sentinels of this type are compared with
// errors.Is by identity.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

// Invalid builds a one-off validation error.
func Invalid(msg string) *Error { return New(KindValidation, "VALIDATION", msg) }

var (
	ErrUnauthorized = New(KindUnauthorized, "UNAUTHORIZED", "unauthorized")
	ErrForbidden    = New(KindForbidden, "FORBIDDEN", "forbidden")
)

// KindOf returns KindUnexpected for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Public returns the code and message that may be shown to a client.
func Public(err error) (code, msg string) {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindUnexpected {
		return e.Code, e.Message
	}
	return "INTERNAL", "internal server error"
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
