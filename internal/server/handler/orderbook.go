package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/metrics"
)

// OrderBookService defines the live-book reads the handler needs.
type OrderBookService interface {
	OrderBookL1(ctx context.Context, symbol string) (domain.L1Metrics, error)
	OrderBookL2(ctx context.Context, symbol string, levels int) (domain.L2Depth, error)
}

// OrderBookHandler serves live order book endpoints.
type OrderBookHandler struct {
	books  OrderBookService
	logger *slog.Logger
}

// NewOrderBookHandler creates an OrderBookHandler.
func NewOrderBookHandler(books OrderBookService, logger *slog.Logger) *OrderBookHandler {
	return &OrderBookHandler{books: books, logger: logger}
}

// L1 returns best-of-book metrics.
// GET /api/orderbook/{symbol}/l1
func (h *OrderBookHandler) L1(w http.ResponseWriter, r *http.Request) {
	l1, err := h.books.OrderBookL1(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeQueryError(w, r, h.logger, "read order book", err)
		return
	}
	writeJSON(w, http.StatusOK, l1)
}

// L2 returns the top levels per side.
// GET /api/orderbook/{symbol}/l2?levels=20
func (h *OrderBookHandler) L2(w http.ResponseWriter, r *http.Request) {
	levels, err := parseLevels(r, metrics.DefaultLevels)
	if err != nil {
		writeQueryError(w, r, h.logger, "read order book", err)
		return
	}
	depth, err := h.books.OrderBookL2(r.Context(), pathParam(r, "symbol"), levels)
	if err != nil {
		writeQueryError(w, r, h.logger, "read order book", err)
		return
	}
	writeJSON(w, http.StatusOK, depth)
}
