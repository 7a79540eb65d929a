// Package service exposes the read-only query surface consumed by the HTTP
// gateway.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/metrics"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// LiveBooks serves live order books, subscribing lazily.
type LiveBooks interface {
	Read(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
	Health() domain.BookHealth
}

// Analytics runs the historical computations.
type Analytics interface {
	VolumeProfile(ctx context.Context, symbol string, window time.Duration) (domain.VolumeProfile, error)
	OrderFlow(ctx context.Context, symbol string, window time.Duration) (domain.OrderFlow, error)
	LiquidityVacuums(ctx context.Context, symbol string, window time.Duration) ([]domain.LiquidityVacuum, error)
	AbsorptionEvents(ctx context.Context, symbol string, window time.Duration) ([]domain.AbsorptionEvent, error)
	DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error)
	MicrostructureHealth(ctx context.Context, symbol string) (domain.MicrostructureHealth, error)
	StopPlacement(ctx context.Context, symbol string, dir domain.PositionDirection, window time.Duration) (domain.StopSuggestion, error)
}

// QueryConfig tunes the query service.
type QueryConfig struct {
	Metrics metrics.Config
	// AnalyticsTimeout bounds each historical query.
	AnalyticsTimeout time.Duration
	// StaleAfter marks mirrored books older than this as stale.
	StaleAfter time.Duration
}

// Query is the read-only query surface. Live reads subscribe on first use;
// analytics reads only consult history.
type Query struct {
	books     LiveBooks
	analytics Analytics
	mirror    domain.BookMirror
	cfg       QueryConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewQuery creates a Query.
func NewQuery(books LiveBooks, analytics Analytics, cfg QueryConfig, logger *slog.Logger) *Query {
	if cfg.AnalyticsTimeout <= 0 {
		cfg.AnalyticsTimeout = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Second
	}
	return &Query{
		books:     books,
		analytics: analytics,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "query")),
		now:       time.Now,
	}
}

// WithMirror lets live reads fall back to the shared book mirror when this
// process is at subscription capacity.
func (q *Query) WithMirror(m domain.BookMirror) *Query {
	q.mirror = m
	return q
}

// read returns the live book for symbol, or the mirrored copy another
// instance publishes when local capacity is exhausted.
func (q *Query) read(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	snap, err := q.books.Read(ctx, symbol)
	if err == nil || q.mirror == nil || !errors.Is(err, domain.ErrCapacityExceeded) {
		return snap, err
	}
	norm, nerr := domain.NormalizeSymbol(symbol)
	if nerr != nil {
		return snap, err
	}
	mirrored, merr := q.mirror.GetSnapshot(ctx, norm)
	if merr != nil {
		if !errors.Is(merr, domain.ErrNotFound) {
			q.logger.WarnContext(ctx, "mirror read failed",
				slog.String("symbol", norm),
				slog.String("error", merr.Error()),
			)
		}
		return snap, err
	}
	mirrored.Age = q.now().Sub(mirrored.Timestamp)
	mirrored.Stale = mirrored.Age > q.cfg.StaleAfter
	return mirrored, nil
}

// OrderBookL1 returns best-of-book metrics with a freshness tag.
func (q *Query) OrderBookL1(ctx context.Context, symbol string) (domain.L1Metrics, error) {
	defer observe("l1", time.Now())
	snap, err := q.read(ctx, symbol)
	if err != nil {
		return domain.L1Metrics{}, err
	}
	return metrics.L1(snap, q.cfg.Metrics), nil
}

// OrderBookL2 returns the top levels of both sides.
func (q *Query) OrderBookL2(ctx context.Context, symbol string, levels int) (domain.L2Depth, error) {
	defer observe("l2", time.Now())
	if levels < 1 || levels > metrics.MaxLevels {
		return metrics.L2(domain.OrderBookSnapshot{}, levels)
	}
	snap, err := q.read(ctx, symbol)
	if err != nil {
		return domain.L2Depth{}, err
	}
	return metrics.L2(snap, levels)
}

// OrderBookHealth reports feed freshness across tracked symbols.
func (q *Query) OrderBookHealth(_ context.Context) domain.BookHealth {
	defer observe("book_health", time.Now())
	return q.books.Health()
}

// VolumeProfile returns the traded-volume histogram over window.
func (q *Query) VolumeProfile(ctx context.Context, symbol string, window time.Duration) (domain.VolumeProfile, error) {
	defer observe("volume_profile", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.VolumeProfile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.VolumeProfile(ctx, symbol, window)
}

// OrderFlow returns buy/sell pressure over window.
func (q *Query) OrderFlow(ctx context.Context, symbol string, window time.Duration) (domain.OrderFlow, error) {
	defer observe("order_flow", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.OrderFlow{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.OrderFlow(ctx, symbol, window)
}

// LiquidityVacuums returns thin price ranges in the latest snapshot.
func (q *Query) LiquidityVacuums(ctx context.Context, symbol string, window time.Duration) ([]domain.LiquidityVacuum, error) {
	defer observe("vacuums", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.LiquidityVacuums(ctx, symbol, window)
}

// AbsorptionEvents returns levels that absorbed repeated aggression.
func (q *Query) AbsorptionEvents(ctx context.Context, symbol string, window time.Duration) ([]domain.AbsorptionEvent, error) {
	defer observe("absorption", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.AbsorptionEvents(ctx, symbol, window)
}

// DetectAnomalies scans the recent window for anomalies.
func (q *Query) DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error) {
	defer observe("anomalies", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.DetectAnomalies(ctx, symbol)
}

// MicrostructureHealth returns the composite health score.
func (q *Query) MicrostructureHealth(ctx context.Context, symbol string) (domain.MicrostructureHealth, error) {
	defer observe("microstructure_health", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.MicrostructureHealth{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.MicrostructureHealth(ctx, symbol)
}

// StopPlacement suggests a stop for a position in dir.
func (q *Query) StopPlacement(ctx context.Context, symbol string, dir domain.PositionDirection, window time.Duration) (domain.StopSuggestion, error) {
	defer observe("stop_placement", time.Now())
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.StopSuggestion{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.cfg.AnalyticsTimeout)
	defer cancel()
	return q.analytics.StopPlacement(ctx, symbol, dir, window)
}

func observe(op string, start time.Time) {
	telemetry.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
