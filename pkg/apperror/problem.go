package apperror

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type              string `json:"type"`
	Title             string `json:"title"`
	Status            int    `json:"status"`
	Code              Kind   `json:"code"`
	Detail            string `json:"detail,omitempty"`
	Instance          string `json:"instance,omitempty"`
	TraceID           string `json:"trace_id,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// ToProblem renders err as a Problem Detail. Store failures and unclassified
// errors are logged and reported with a generic detail.
func ToProblem(err error, requestID string) *ProblemDetail {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindDB, Err: err}
	}

	status := HTTPStatus(e.Kind)
	p := &ProblemDetail{
		Type:    fmt.Sprintf("https://adoption.mindburn.dev/errors/%s", e.Kind),
		Title:   http.StatusText(status),
		Status:  status,
		Code:    e.Kind,
		TraceID: requestID,
	}

	switch e.Kind {
	case KindDB:
		slog.Error("internal store error", "error", err, "request_id", requestID)
		p.Detail = "An unexpected error occurred. Please try again later."
	case KindRateLimited:
		p.Detail = e.Detail
		p.RetryAfterSeconds = int(math.Ceil(e.RetryAfter.Seconds()))
	default:
		p.Detail = e.Detail
		if e.Op != "" {
			p.Instance = e.Op
		}
	}
	return p
}
