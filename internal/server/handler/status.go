package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/subscription"
)

// Subscriptions is the subset of the subscription manager the handlers use.
type Subscriptions interface {
	Ensure(ctx context.Context, symbol string) (*subscription.Handle, error)
	Get(symbol string) (*subscription.Handle, bool)
	Remove(symbol string) error
	Symbols() []string
}

// StatusHandler serves the process status and subscription management.
type StatusHandler struct {
	mode    string
	started time.Time
	subs    Subscriptions
	logger  *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, subs Subscriptions, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, started: time.Now(), subs: subs, logger: logger}
}

// GetStatus responds with the run mode, uptime and tracked symbols.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"symbols": h.subs.Symbols(),
	})
}

// Subscribe starts tracking a symbol.
// POST /api/subscriptions/{symbol}
func (h *StatusHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	handle, err := h.subs.Ensure(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeQueryError(w, r, h.logger, "subscribe", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  handle.Symbol(),
		"state":   handle.State(),
		"resyncs": handle.Resyncs(),
	})
}

// GetSubscription reports the state of a tracked symbol without subscribing.
// GET /api/subscriptions/{symbol}
func (h *StatusHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.subs.Get(pathParam(r, "symbol"))
	if !ok {
		writeError(w, http.StatusNotFound, "symbol not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":      handle.Symbol(),
		"state":       handle.State(),
		"resyncs":     handle.Resyncs(),
		"last_update": handle.Book().LastUpdate().UTC().Format(time.RFC3339Nano),
	})
}

// Unsubscribe stops tracking a symbol.
// DELETE /api/subscriptions/{symbol}
func (h *StatusHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	err := h.subs.Remove(pathParam(r, "symbol"))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeQueryError(w, r, h.logger, "unsubscribe", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "symbol not tracked")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
