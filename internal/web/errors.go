package web

// errors.go maps pipeline errors to HTTP responses.
//
// The technical error is logged with the request ID; the client receives the
// operator-facing message from core.Describe plus the taxonomy kind, so a
// notification forwarder can tell a bad file (4xx, do not retry) from an
// infrastructure failure (5xx, retry).

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvrefinery/internal/core"
	"github.com/JonMunkholm/csvrefinery/internal/ingest"
	"github.com/JonMunkholm/csvrefinery/internal/logging"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Action  string          `json:"action,omitempty"`
	Code    string          `json:"code"`
	Kind    string          `json:"kind"`
	Outcome *ingest.Outcome `json:"outcome,omitempty"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.KindOf(err) {
	case core.KindInvalidTrigger:
		return http.StatusBadRequest
	case core.KindSchema, core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindStore:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter renders d as a Retry-After value in whole seconds, rounded up
// and at least 1.
func retryAfter(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// respondError logs err and writes its ErrorResponse. out may be nil.
// Busy responses expect the caller to have set Retry-After.
func respondError(w http.ResponseWriter, r *http.Request, err error, out *ingest.Outcome) {
	status := statusFor(err)
	msg := core.Describe(err)
	if errors.Is(err, ingest.ErrBusy) {
		msg = core.UserMessage{
			Message: "Too many ingestions are running",
			Action:  "Retry after the Retry-After interval",
			Code:    "BSY001",
		}
	}

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", chimw.GetReqID(r.Context()),
	)

	writeJSON(w, r, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Kind:    core.KindOf(err).String(),
		Outcome: out,
	})
}
