// Package apperr defines the error taxonomy shared across services.
// Handlers map these kinds to HTTP status codes and the response envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindRateLimit
	KindTransientStorage
	KindAI
	KindTranslation
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string // stable machine-readable code for the envelope
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so callers can write
// errors.Is(err, apperr.NotFound("")) style checks against sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Constructors. Message is user-visible; use Wrap to attach a cause.

func Validation(message string) *Error {
	return newError(KindValidation, "VALIDATION_ERROR", message)
}

func Unauthorized(message string) *Error {
	return newError(KindAuth, "UNAUTHORIZED", message)
}

func Forbidden(message string) *Error {
	return newError(KindForbidden, "FORBIDDEN", message)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, "NOT_FOUND", message)
}

func Conflict(message string) *Error {
	return newError(KindConflict, "CONFLICT", message)
}

func RateLimited(message string) *Error {
	return newError(KindRateLimit, "RATE_LIMITED", message)
}

func TransientStorage(message string) *Error {
	return newError(KindTransientStorage, "STORAGE_UNAVAILABLE", message)
}

func AIFailure(message string) *Error {
	return newError(KindAI, "AI_ERROR", message)
}

func TranslationFailure(message string) *Error {
	return newError(KindTranslation, "TRANSLATION_ERROR", message)
}

func Internal(message string) *Error {
	return newError(KindInternal, "INTERNAL_ERROR", message)
}

// Wrap attaches a cause to the error and returns it.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or INTERNAL_ERROR when unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindTransientStorage:
		return http.StatusServiceUnavailable
	case KindAI, KindTranslation:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
