package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// insufficientResponse is returned with 200 when a window does not yet hold
// enough history. It is an expected state, not a failure.
type insufficientResponse struct {
	Status   string `json:"status"`
	Analytic string `json:"analytic,omitempty"`
	Need     int    `json:"need,omitempty"`
	Got      int    `json:"got"`
	Message  string `json:"message"`
}

// writeQueryError maps typed query errors onto HTTP responses.
func writeQueryError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var ide *domain.InsufficientDataError
	switch {
	case errors.As(err, &ide):
		writeJSON(w, http.StatusOK, insufficientResponse{
			Status:   "insufficient_data",
			Analytic: ide.Analytic,
			Need:     ide.Need,
			Got:      ide.Got,
			Message:  ide.Error(),
		})
	case errors.Is(err, domain.ErrInsufficientData):
		writeJSON(w, http.StatusOK, insufficientResponse{Status: "insufficient_data", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidLevels),
		errors.Is(err, domain.ErrInvalidDirection),
		errors.Is(err, domain.ErrInvalidSection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCapacityExceeded), errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.ErrorContext(r.Context(), "handler: query failed",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseWindow reads the window query parameter as a Go duration ("90s",
// "24h") or as plain seconds. def is used when it is absent.
func parseWindow(r *http.Request, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidWindow, v)
	}
	return d, nil
}

// parseLevels reads the levels query parameter, defaulting to def.
func parseLevels(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("levels")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidLevels, v)
	}
	return n, nil
}
