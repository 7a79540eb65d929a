package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// TradeTask buffers aggregate trades per symbol and writes one batch per
// symbol every flush interval.
type TradeTask struct {
	store        domain.TradeStore
	interval     time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	buffers map[string][]domain.AggTrade
}

// NewTradeTask creates a TradeTask.
func NewTradeTask(store domain.TradeStore, interval time.Duration, logger *slog.Logger) *TradeTask {
	if interval <= 0 {
		interval = time.Second
	}
	return &TradeTask{
		store:        store,
		interval:     interval,
		writeTimeout: 5 * time.Second,
		logger:       logger.With(slog.String("component", "trade_task")),
		buffers:      make(map[string][]domain.AggTrade),
	}
}

// Add buffers one trade. It is safe to call from the stream goroutines.
func (t *TradeTask) Add(trade domain.AggTrade) {
	t.mu.Lock()
	t.buffers[trade.Symbol] = append(t.buffers[trade.Symbol], trade)
	t.mu.Unlock()
}

// Pending returns how many trades are waiting for the next flush.
func (t *TradeTask) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buffers {
		n += len(b)
	}
	return n
}

// Run flushes on every tick until ctx is cancelled, then flushes whatever is
// left.
func (t *TradeTask) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "trade task started", slog.Duration("interval", t.interval))
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Flush(context.WithoutCancel(ctx))
			t.logger.Info("trade task stopped")
			return ctx.Err()
		case <-ticker.C:
			t.Flush(ctx)
		}
	}
}

// Flush swaps out the buffers and writes one time-ordered batch per symbol.
// A failed batch is logged and dropped. It returns how many batches were
// written.
func (t *TradeTask) Flush(ctx context.Context) int {
	t.mu.Lock()
	pending := t.buffers
	t.buffers = make(map[string][]domain.AggTrade, len(pending))
	t.mu.Unlock()

	written := 0
	for symbol, trades := range pending {
		if len(trades) == 0 {
			continue
		}
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].TimeMs < trades[j].TimeMs })
		batch := domain.TradeBatch{Symbol: symbol, StartMs: trades[0].TimeMs, Trades: trades}

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.writeTimeout)
		err := t.store.PutTradeBatch(writeCtx, batch)
		cancel()
		if err != nil {
			telemetry.StoreWrites.WithLabelValues(string(domain.KindTrades), "error").Inc()
			t.logger.ErrorContext(ctx, "trade batch write failed",
				slog.String("symbol", symbol),
				slog.Int("trades", len(trades)),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.StoreWrites.WithLabelValues(string(domain.KindTrades), "ok").Inc()
		written++
	}
	return written
}
