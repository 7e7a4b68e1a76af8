package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/conductor"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// writeError maps err to an HTTP status and writes the error body.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.Error("api request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conductor.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, conductor.ErrJobNotFound), errors.Is(err, conductor.ErrDeliveryNotFound):
		return http.StatusNotFound
	case errors.Is(err, conductor.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, conductor.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, conductor.ErrShuttingDown), errors.Is(err, conductor.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// intParam parses a non-negative integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, conductor.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}
