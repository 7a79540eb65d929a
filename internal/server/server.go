// Package server exposes the HTTP query surface and the WebSocket relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/server/handler"
	"github.com/alanyoungcy/depthwatch/internal/server/middleware"
	"github.com/alanyoungcy/depthwatch/internal/server/ws"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables authentication
	RateLimit       int    // requests per RateLimitWindow per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Sweep, Report
// and Events may be nil.
type Handlers struct {
	Health    *handler.HealthHandler
	OrderBook *handler.OrderBookHandler
	Analytics *handler.AnalyticsHandler
	Status    *handler.StatusHandler
	Sweep     *handler.SweepHandler
	Report    *handler.ReportHandler
	Events    *handler.EventsHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	s := &Server{logger: logger.With(slog.String("component", "http"))}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(cfg, handlers, hub, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/subscriptions/{symbol}", h.Status.GetSubscription)
	mux.HandleFunc("POST /api/subscriptions/{symbol}", h.Status.Subscribe)
	mux.HandleFunc("DELETE /api/subscriptions/{symbol}", h.Status.Unsubscribe)

	mux.HandleFunc("GET /api/orderbook/health", h.Health.BookHealth)
	mux.HandleFunc("GET /api/orderbook/{symbol}/l1", h.OrderBook.L1)
	mux.HandleFunc("GET /api/orderbook/{symbol}/l2", h.OrderBook.L2)

	mux.HandleFunc("GET /api/analytics/{symbol}/volume-profile", h.Analytics.VolumeProfile)
	mux.HandleFunc("GET /api/analytics/{symbol}/order-flow", h.Analytics.OrderFlow)
	mux.HandleFunc("GET /api/analytics/{symbol}/anomalies", h.Analytics.Anomalies)
	mux.HandleFunc("GET /api/analytics/{symbol}/vacuums", h.Analytics.Vacuums)
	mux.HandleFunc("GET /api/analytics/{symbol}/absorption", h.Analytics.Absorption)
	mux.HandleFunc("GET /api/analytics/{symbol}/health", h.Analytics.Health)
	mux.HandleFunc("GET /api/analytics/{symbol}/stop", h.Analytics.Stop)

	if h.Report != nil {
		mux.HandleFunc("GET /api/report/{symbol}", h.Report.Market)
	}
	if h.Sweep != nil {
		mux.HandleFunc("POST /api/pipeline/sweep", h.Sweep.TriggerSweep)
	}
	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	}
	mux.Handle("GET /metrics", telemetry.Handler())
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, s.logger)(root)
	}
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	root = middleware.Logging(s.logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down gracefully when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
