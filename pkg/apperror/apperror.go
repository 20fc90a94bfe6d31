// Package apperror defines the error taxonomy surfaced by the engine and its
// RFC 7807 Problem Detail rendering.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindValidation  Kind = "VALIDATION_ERROR"
	KindNotFound    Kind = "NOT_FOUND"
	KindConflict    Kind = "CONFLICT"
	KindDB          Kind = "DB_ERROR"
	KindRateLimited Kind = "RATE_LIMITED"
)

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind       Kind
	Op         string
	Detail     string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports malformed input. Never retried automatically.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing control, recommendation or evidence record.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Conflict reports an illegal state transition or duplicate active record.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// DB wraps a failed store operation.
func DB(op string, err error) *Error {
	return &Error{Kind: KindDB, Op: op, Err: err}
}

// RateLimited reports backpressure. Callers should retry after retryAfter.
func RateLimited(op string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Op:         op,
		Detail:     fmt.Sprintf("retry after %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err is nil or unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return Is(err, KindRateLimited)
}

// HTTPStatus maps a kind to the equivalent HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
