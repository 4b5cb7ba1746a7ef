package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/star/passwatch/internal/predict"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
)

var errBadRequest = errors.New("bad request")

// malformedTLE lists the element-set failures reported as 422.
var malformedTLE = []error{
	tle.ErrEmptyLine,
	tle.ErrLineTooShort,
	tle.ErrInvalidLineNumber,
	tle.ErrCatalogMismatch,
	tle.ErrInvalidChecksum,
	tle.ErrInvalidField,
	propagation.ErrMechanicsInit,
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	for _, target := range malformedTLE {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, propagation.ErrInvalidLocation),
		errors.Is(err, propagation.ErrInvalidWindow),
		errors.Is(err, propagation.ErrTooManySteps):
		return http.StatusBadRequest
	case errors.Is(err, tle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, predict.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, predict.ErrNoCatalog):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError reports err to the client. Server-side failures are logged and
// their details withheld.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		logger.Error("request failed",
			"component", "api",
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{
		"error":      msg,
		"request_id": RequestID(r.Context()),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found", "request_id": RequestID(r.Context())})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed", "request_id": RequestID(r.Context())})
}
