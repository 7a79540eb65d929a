// Package analytics derives microstructure signals from windows of persisted
// order book snapshots and trades. Every computation is stateless: it reads
// its window from the time-series store on each call.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Window bounds per analytic.
const (
	MinProfileWindow = time.Hour
	MaxProfileWindow = 168 * time.Hour
	MinFlowWindow    = 10 * time.Second
	MaxFlowWindow    = 300 * time.Second
	MinVacuumWindow  = 10 * time.Second
	MaxVacuumWindow  = time.Hour
)

// SnapshotReader is the read half of the snapshot store.
type SnapshotReader interface {
	ListSnapshots(ctx context.Context, symbol string, from, to time.Time) ([]domain.OrderBookSnapshot, error)
}

// TradeReader is the read half of the trade store.
type TradeReader interface {
	ListTradeBatches(ctx context.Context, symbol string, from, to time.Time) ([]domain.TradeBatch, error)
}

// Config holds the detection thresholds.
type Config struct {
	MinProfileTrades int
	ValueAreaPct     float64
	TickSize         float64

	AnomalyWindow time.Duration
	HealthWindow  time.Duration
	// SnapshotInterval is the capture cadence the update-rate score expects.
	SnapshotInterval time.Duration

	VacuumThreshold float64

	QuoteStuffingRate float64
	MaxFillRate       float64

	IcebergMultiplier float64

	// WallMultiplier and WallDepth pick the walls a stop may hide behind.
	WallMultiplier float64
	WallDepth      int

	FlashDepthLossPct  float64
	FlashSpreadMult    float64
	FlashCancelRatePct float64
	FlashCrashMoveBps  float64

	DegradedBelow float64
	PoorBelow     float64

	// Retention is how far back the store keeps data. Windows longer than
	// it are rejected. Zero disables the check.
	Retention time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MinProfileTrades:   1000,
		ValueAreaPct:       0.70,
		TickSize:           0.01,
		AnomalyWindow:      60 * time.Second,
		HealthWindow:       70 * time.Second,
		SnapshotInterval:   time.Second,
		VacuumThreshold:    0.2,
		QuoteStuffingRate:  500,
		MaxFillRate:        0.10,
		IcebergMultiplier:  5,
		WallMultiplier:     5,
		WallDepth:          20,
		FlashDepthLossPct:  80,
		FlashSpreadMult:    10,
		FlashCancelRatePct: 90,
		FlashCrashMoveBps:  200,
		DegradedBelow:      60,
		PoorBelow:          40,
	}
}

// Engine runs analytics queries against the time-series store.
type Engine struct {
	snapshots SnapshotReader
	trades    TradeReader
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine. Zero-valued thresholds in cfg fall back to
// DefaultConfig.
func NewEngine(snapshots SnapshotReader, trades TradeReader, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		snapshots: snapshots,
		trades:    trades,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "analytics")),
		now:       time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinProfileTrades <= 0 {
		c.MinProfileTrades = d.MinProfileTrades
	}
	if c.ValueAreaPct <= 0 || c.ValueAreaPct > 1 {
		c.ValueAreaPct = d.ValueAreaPct
	}
	if c.TickSize <= 0 {
		c.TickSize = d.TickSize
	}
	if c.AnomalyWindow <= 0 {
		c.AnomalyWindow = d.AnomalyWindow
	}
	if c.HealthWindow <= 0 {
		c.HealthWindow = d.HealthWindow
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = d.SnapshotInterval
	}
	if c.VacuumThreshold <= 0 {
		c.VacuumThreshold = d.VacuumThreshold
	}
	if c.QuoteStuffingRate <= 0 {
		c.QuoteStuffingRate = d.QuoteStuffingRate
	}
	if c.MaxFillRate <= 0 {
		c.MaxFillRate = d.MaxFillRate
	}
	if c.IcebergMultiplier <= 0 {
		c.IcebergMultiplier = d.IcebergMultiplier
	}
	if c.WallMultiplier <= 0 {
		c.WallMultiplier = d.WallMultiplier
	}
	if c.WallDepth <= 0 {
		c.WallDepth = d.WallDepth
	}
	if c.FlashDepthLossPct <= 0 {
		c.FlashDepthLossPct = d.FlashDepthLossPct
	}
	if c.FlashSpreadMult <= 0 {
		c.FlashSpreadMult = d.FlashSpreadMult
	}
	if c.FlashCancelRatePct <= 0 {
		c.FlashCancelRatePct = d.FlashCancelRatePct
	}
	if c.FlashCrashMoveBps <= 0 {
		c.FlashCrashMoveBps = d.FlashCrashMoveBps
	}
	if c.DegradedBelow <= 0 {
		c.DegradedBelow = d.DegradedBelow
	}
	if c.PoorBelow <= 0 {
		c.PoorBelow = d.PoorBelow
	}
	return c
}

func (e *Engine) checkWindow(window, lo, hi time.Duration) error {
	if window < lo || window > hi {
		return fmt.Errorf("%w: %s outside [%s, %s]", domain.ErrInvalidWindow, window, lo, hi)
	}
	if r := e.cfg.Retention; r > 0 && window > r {
		return fmt.Errorf("%w: %s exceeds retention %s", domain.ErrInvalidWindow, window, r)
	}
	return nil
}

func (e *Engine) loadSnapshots(ctx context.Context, symbol string, from, to time.Time) ([]domain.OrderBookSnapshot, error) {
	snaps, err := e.snapshots.ListSnapshots(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics: list snapshots %s: %w", symbol, err)
	}
	return snaps, nil
}

// loadTrades flattens the window's batches into one time-ordered slice.
// Batches are keyed by their first trade, so trades before from are dropped.
func (e *Engine) loadTrades(ctx context.Context, symbol string, from, to time.Time) ([]domain.AggTrade, int, error) {
	batches, err := e.trades.ListTradeBatches(ctx, symbol, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("analytics: list trades %s: %w", symbol, err)
	}
	var trades []domain.AggTrade
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	for _, b := range batches {
		for _, t := range b.Trades {
			if t.TimeMs < fromMs || t.TimeMs > toMs {
				continue
			}
			trades = append(trades, t)
		}
	}
	return trades, len(batches), nil
}

func insufficient(analytic string, need, got int) error {
	return &domain.InsufficientDataError{Analytic: analytic, Need: need, Got: got}
}

// sideLevels returns the ladder for side.
func sideLevels(s domain.OrderBookSnapshot, side domain.Side) []domain.PriceLevel {
	if side == domain.SideBid {
		return s.Bids
	}
	return s.Asks
}

func levelVolume(levels []domain.PriceLevel) float64 {
	var total float64
	for _, l := range levels {
		total += l.Quantity
	}
	return total
}

func levelMap(levels []domain.PriceLevel) map[float64]float64 {
	m := make(map[float64]float64, len(levels))
	for _, l := range levels {
		m[l.Price] = l.Quantity
	}
	return m
}
