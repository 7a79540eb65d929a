package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/report"
	"github.com/alanyoungcy/depthwatch/internal/server/handler"
	"github.com/alanyoungcy/depthwatch/internal/subscription"
)

type stubBooks struct{}

func (stubBooks) OrderBookL1(_ context.Context, symbol string) (domain.L1Metrics, error) {
	return domain.L1Metrics{Symbol: symbol}, nil
}

func (stubBooks) OrderBookL2(context.Context, string, int) (domain.L2Depth, error) {
	return domain.L2Depth{}, domain.ErrInvalidLevels
}

func (stubBooks) OrderBookHealth(context.Context) domain.BookHealth {
	return domain.BookHealth{Status: domain.FeedOk}
}

type stubAnalytics struct{}

func (stubAnalytics) VolumeProfile(context.Context, string, time.Duration) (domain.VolumeProfile, error) {
	return domain.VolumeProfile{}, &domain.InsufficientDataError{Analytic: "volume_profile", Need: 1}
}

func (stubAnalytics) OrderFlow(context.Context, string, time.Duration) (domain.OrderFlow, error) {
	return domain.OrderFlow{}, domain.ErrInvalidWindow
}

func (stubAnalytics) LiquidityVacuums(context.Context, string, time.Duration) ([]domain.LiquidityVacuum, error) {
	return nil, nil
}

func (stubAnalytics) AbsorptionEvents(context.Context, string, time.Duration) ([]domain.AbsorptionEvent, error) {
	return nil, nil
}

func (stubAnalytics) DetectAnomalies(context.Context, string) ([]domain.Anomaly, error) {
	return []domain.Anomaly{}, nil
}

func (stubAnalytics) MicrostructureHealth(context.Context, string) (domain.MicrostructureHealth, error) {
	return domain.MicrostructureHealth{}, nil
}

func (stubAnalytics) StopPlacement(_ context.Context, _ string, dir domain.PositionDirection, _ time.Duration) (domain.StopSuggestion, error) {
	if dir != domain.DirectionLong && dir != domain.DirectionShort {
		return domain.StopSuggestion{}, domain.ErrInvalidDirection
	}
	return domain.StopSuggestion{Direction: dir}, nil
}

type stubSubs struct{}

func (stubSubs) Ensure(context.Context, string) (*subscription.Handle, error) {
	return nil, domain.ErrCapacityExceeded
}
func (stubSubs) Get(string) (*subscription.Handle, bool) { return nil, false }
func (stubSubs) Remove(string) error                     { return domain.ErrNotFound }
func (stubSubs) Symbols() []string                       { return []string{"BTCUSDT"} }

func newTestServer(apiKey string) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Handlers{
		Health:    handler.NewHealthHandler(stubBooks{}, logger),
		OrderBook: handler.NewOrderBookHandler(stubBooks{}, logger),
		Analytics: handler.NewAnalyticsHandler(stubAnalytics{}, logger),
		Status:    handler.NewStatusHandler("server", stubSubs{}, logger),
	}
	return NewServer(Config{Port: 0, APIKey: apiKey}, h, nil, nil, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, target, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestServer("k")

	tests := []struct {
		name   string
		method string
		target string
		key    string
		want   int
	}{
		{"health is open", http.MethodGet, "/api/health", "", http.StatusOK},
		{"metrics is open", http.MethodGet, "/metrics", "", http.StatusOK},
		{"auth required", http.MethodGet, "/api/orderbook/BTCUSDT/l1", "", http.StatusUnauthorized},
		{"l1", http.MethodGet, "/api/orderbook/BTCUSDT/l1", "k", http.StatusOK},
		{"l2 invalid levels", http.MethodGet, "/api/orderbook/BTCUSDT/l2?levels=0", "k", http.StatusBadRequest},
		{"book health", http.MethodGet, "/api/orderbook/health", "k", http.StatusOK},
		{"invalid window", http.MethodGet, "/api/analytics/BTCUSDT/order-flow?window=1", "k", http.StatusBadRequest},
		{"anomalies", http.MethodGet, "/api/analytics/BTCUSDT/anomalies", "k", http.StatusOK},
		{"stop short", http.MethodGet, "/api/analytics/BTCUSDT/stop?direction=SHORT", "k", http.StatusOK},
		{"stop bad direction", http.MethodGet, "/api/analytics/BTCUSDT/stop?direction=sideways", "k", http.StatusBadRequest},
		{"capacity", http.MethodPost, "/api/subscriptions/BTCUSDT", "k", http.StatusTooManyRequests},
		{"untracked subscription", http.MethodGet, "/api/subscriptions/ETHUSDT", "k", http.StatusNotFound},
		{"unsubscribe unknown", http.MethodDelete, "/api/subscriptions/ETHUSDT", "k", http.StatusNotFound},
		{"no sweeper route", http.MethodPost, "/api/pipeline/sweep", "k", http.StatusNotFound},
		{"no journal route", http.MethodGet, "/api/events", "k", http.StatusNotFound},
		{"no report route", http.MethodGet, "/api/report/BTCUSDT", "k", http.StatusNotFound},
		{"wrong method", http.MethodPost, "/api/status", "k", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, h, tt.method, tt.target, tt.key).Code)
		})
	}
}

func TestInsufficientHistoryIsNotAnError(t *testing.T) {
	rec := do(t, newTestServer(""), http.MethodGet, "/api/analytics/BTCUSDT/volume-profile", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_data", body["status"])
	assert.Equal(t, "volume_profile", body["analytic"])
}

func TestStatusListsSymbols(t *testing.T) {
	rec := do(t, newTestServer(""), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbols":["BTCUSDT"]`)
	assert.Contains(t, rec.Body.String(), `"mode":"server"`)
}

type stubJournal struct {
	symbol string
	since  time.Time
	limit  int
}

func (j *stubJournal) Record(context.Context, string, string, map[string]any) error { return nil }

func (j *stubJournal) List(_ context.Context, symbol string, since time.Time, limit int) ([]domain.JournalEntry, error) {
	j.symbol, j.since, j.limit = symbol, since, limit
	return []domain.JournalEntry{{ID: 7, Symbol: "BTCUSDT", Event: "resync"}}, nil
}

func TestEventsRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := &stubJournal{}
	h := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(stubBooks{}, logger),
		OrderBook: handler.NewOrderBookHandler(stubBooks{}, logger),
		Analytics: handler.NewAnalyticsHandler(stubAnalytics{}, logger),
		Status:    handler.NewStatusHandler("track", stubSubs{}, logger),
		Events:    handler.NewEventsHandler(journal, logger),
	}, nil, nil, logger).Handler()

	rec := do(t, h, http.MethodGet, "/api/events?symbol=btcusdt&since=2026-01-05T00:00:00Z&limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTCUSDT", journal.symbol)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), journal.since.UTC())
	assert.Equal(t, 1000, journal.limit)
	assert.Contains(t, rec.Body.String(), `"event":"resync"`)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?since=yesterday", "").Code)
}

func TestSweepRouteCoalescesPendingRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeps := make(chan struct{}, 1)
	h := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(stubBooks{}, logger),
		OrderBook: handler.NewOrderBookHandler(stubBooks{}, logger),
		Analytics: handler.NewAnalyticsHandler(stubAnalytics{}, logger),
		Status:    handler.NewStatusHandler("track", stubSubs{}, logger),
		Sweep:     handler.NewSweepHandler(sweeps, logger),
	}, nil, nil, logger).Handler()

	first := do(t, h, http.MethodPost, "/api/pipeline/sweep", "")
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Contains(t, first.Body.String(), `"queued":true`)

	second := do(t, h, http.MethodPost, "/api/pipeline/sweep", "")
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Contains(t, second.Body.String(), `"queued":false`)
	assert.Len(t, sweeps, 1)
}

type stubReports struct {
	opts report.Options
}

func (s *stubReports) Generate(_ context.Context, symbol string, opts report.Options) (report.Report, error) {
	s.opts = opts
	if opts.VolumeWindow < time.Hour {
		return report.Report{}, domain.ErrInvalidWindow
	}
	return report.Report{Symbol: symbol, Markdown: "# Market Report: " + symbol + "\n"}, nil
}

func TestReportRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reports := &stubReports{}
	h := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(stubBooks{}, logger),
		OrderBook: handler.NewOrderBookHandler(stubBooks{}, logger),
		Analytics: handler.NewAnalyticsHandler(stubAnalytics{}, logger),
		Status:    handler.NewStatusHandler("track", stubSubs{}, logger),
		Report:    handler.NewReportHandler(reports, logger),
	}, nil, nil, logger).Handler()

	rec := do(t, h, http.MethodGet, "/api/report/BTCUSDT?sections=order_flow,data_health&window=48h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"BTCUSDT"`)
	assert.Equal(t, []string{"order_flow", "data_health"}, reports.opts.Sections)
	assert.Equal(t, 48*time.Hour, reports.opts.VolumeWindow)

	rec = do(t, h, http.MethodGet, "/api/report/BTCUSDT?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "# Market Report: BTCUSDT\n", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/report/BTCUSDT?window=30m", "").Code)
}
