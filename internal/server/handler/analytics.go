package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// AnalyticsService defines the historical queries the handler needs.
type AnalyticsService interface {
	VolumeProfile(ctx context.Context, symbol string, window time.Duration) (domain.VolumeProfile, error)
	OrderFlow(ctx context.Context, symbol string, window time.Duration) (domain.OrderFlow, error)
	LiquidityVacuums(ctx context.Context, symbol string, window time.Duration) ([]domain.LiquidityVacuum, error)
	AbsorptionEvents(ctx context.Context, symbol string, window time.Duration) ([]domain.AbsorptionEvent, error)
	DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error)
	MicrostructureHealth(ctx context.Context, symbol string) (domain.MicrostructureHealth, error)
	StopPlacement(ctx context.Context, symbol string, dir domain.PositionDirection, window time.Duration) (domain.StopSuggestion, error)
}

// AnalyticsHandler serves analytics endpoints.
type AnalyticsHandler struct {
	analytics AnalyticsService
	logger    *slog.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler.
func NewAnalyticsHandler(analytics AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// VolumeProfile returns the traded volume histogram.
// GET /api/analytics/{symbol}/volume-profile?window=24h
func (h *AnalyticsHandler) VolumeProfile(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 24*time.Hour)
	if err != nil {
		writeQueryError(w, r, h.logger, "compute volume profile", err)
		return
	}
	p, err := h.analytics.VolumeProfile(r.Context(), pathParam(r, "symbol"), window)
	if err != nil {
		writeQueryError(w, r, h.logger, "compute volume profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// OrderFlow returns bid/ask pressure.
// GET /api/analytics/{symbol}/order-flow?window=60s
func (h *AnalyticsHandler) OrderFlow(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, time.Minute)
	if err != nil {
		writeQueryError(w, r, h.logger, "compute order flow", err)
		return
	}
	f, err := h.analytics.OrderFlow(r.Context(), pathParam(r, "symbol"), window)
	if err != nil {
		writeQueryError(w, r, h.logger, "compute order flow", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Vacuums returns thin price ranges.
// GET /api/analytics/{symbol}/vacuums?window=60s
func (h *AnalyticsHandler) Vacuums(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, time.Minute)
	if err != nil {
		writeQueryError(w, r, h.logger, "detect vacuums", err)
		return
	}
	vs, err := h.analytics.LiquidityVacuums(r.Context(), pathParam(r, "symbol"), window)
	if err != nil {
		writeQueryError(w, r, h.logger, "detect vacuums", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vacuums": vs})
}

// Absorption returns levels absorbing repeated aggression.
// GET /api/analytics/{symbol}/absorption?window=5m
func (h *AnalyticsHandler) Absorption(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 5*time.Minute)
	if err != nil {
		writeQueryError(w, r, h.logger, "detect absorption", err)
		return
	}
	evs, err := h.analytics.AbsorptionEvents(r.Context(), pathParam(r, "symbol"), window)
	if err != nil {
		writeQueryError(w, r, h.logger, "detect absorption", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// Anomalies returns anomalies in the recent window.
// GET /api/analytics/{symbol}/anomalies
func (h *AnalyticsHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	as, err := h.analytics.DetectAnomalies(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeQueryError(w, r, h.logger, "detect anomalies", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": as})
}

// Health returns the composite microstructure health score.
// GET /api/analytics/{symbol}/health
func (h *AnalyticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	mh, err := h.analytics.MicrostructureHealth(r.Context(), pathParam(r, "symbol"))
	if err != nil {
		writeQueryError(w, r, h.logger, "compute health", err)
		return
	}
	writeJSON(w, http.StatusOK, mh)
}

// Stop suggests a stop-loss price for a position.
// GET /api/analytics/{symbol}/stop?direction=long&window=60s
func (h *AnalyticsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, time.Minute)
	if err != nil {
		writeQueryError(w, r, h.logger, "suggest stop", err)
		return
	}
	dir := domain.PositionDirection(strings.ToLower(r.URL.Query().Get("direction")))
	if dir == "" {
		dir = domain.DirectionLong
	}
	s, err := h.analytics.StopPlacement(r.Context(), pathParam(r, "symbol"), dir, window)
	if err != nil {
		writeQueryError(w, r, h.logger, "suggest stop", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
