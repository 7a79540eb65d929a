package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// BookHealthSource reports live-book freshness.
type BookHealthSource interface {
	OrderBookHealth(ctx context.Context) domain.BookHealth
}

// HealthHandler serves the liveness and feed-health endpoints.
type HealthHandler struct {
	books  BookHealthSource
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(books BookHealthSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{books: books, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is alive.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// BookHealth reports per-symbol freshness. The body carries the status;
// an erroring feed answers 503 so load balancers can react.
// GET /api/orderbook/health
func (h *HealthHandler) BookHealth(w http.ResponseWriter, r *http.Request) {
	health := h.books.OrderBookHealth(r.Context())
	status := http.StatusOK
	if health.Status == domain.FeedError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
