package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/report"
	"github.com/sells-group/skiptrace/internal/runner"
	"github.com/sells-group/skiptrace/internal/store"
	"github.com/sells-group/skiptrace/internal/waterfall"
)

const maxBodyBytes = 1 << 20

// envelope is the body of every JSON response.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, envelope{
		Message:   message,
		Error:     code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeErr maps an engine error onto a status and error code.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		zap.L().Error("api: request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	if _, ok := waterfall.AsExhausted(err); ok {
		return http.StatusBadGateway, "all_providers_exhausted"
	}
	switch {
	case errors.Is(err, runner.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, budget.ErrBudgetExceeded):
		return http.StatusTooManyRequests, "budget_exceeded"
	case errors.Is(err, runner.ErrNoProviders):
		return http.StatusServiceUnavailable, "no_providers"
	case errors.Is(err, store.ErrRunFinished), errors.Is(err, report.ErrRunNotFinished):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return eris.Wrap(runner.ErrValidation, "invalid JSON: "+err.Error())
	}
	if dec.More() {
		return eris.Wrap(runner.ErrValidation, "invalid JSON: trailing data")
	}
	return nil
}
