package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/feed"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// runBook is the single writer of h's book.
func (m *Manager) runBook(ctx context.Context, h *Handle) {
	defer h.wg.Done()
	logger := m.logger.With(slog.String("symbol", h.symbol))

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.events:
			out, err := h.book.Apply(u)
			if err != nil {
				logger.WarnContext(ctx, "apply failed", slog.String("error", err.Error()))
				continue
			}
			telemetry.DepthUpdates.WithLabelValues(h.symbol, out.String()).Inc()
			if !out.NeedsResync() {
				continue
			}

			logger.WarnContext(ctx, "book out of sync, resyncing",
				slog.String("outcome", out.String()),
				slog.Uint64("first_update_id", u.FirstUpdateID),
				slog.Uint64("final_update_id", u.FinalUpdateID),
				slog.Uint64("last_update_id", h.book.LastUpdateID()),
			)
			if err := m.resync(ctx, h); err != nil {
				if ctx.Err() != nil {
					return
				}
				m.fail(h, err)
				return
			}
		}
	}
}

// resync refetches the depth snapshot and reseeds the book, retrying up to
// MaxResyncAttempts times.
func (m *Manager) resync(ctx context.Context, h *Handle) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxResyncAttempts; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.InitTimeout)
		depth, err := m.fetcher.FetchDepth(fetchCtx, h.symbol, m.cfg.DepthLimit)
		cancel()
		if err == nil {
			err = h.book.Seed(depth)
		}
		if err == nil {
			h.resyncs.Add(1)
			telemetry.Resyncs.WithLabelValues(h.symbol, "ok").Inc()
			m.record(h.symbol, "resync", map[string]any{
				"attempt":        attempt,
				"last_update_id": depth.LastUpdateID,
			})
			return nil
		}

		lastErr = err
		telemetry.Resyncs.WithLabelValues(h.symbol, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.WarnContext(ctx, "resync attempt failed",
			slog.String("symbol", h.symbol),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < m.cfg.MaxResyncAttempts && m.cfg.ResyncDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * m.cfg.ResyncDelay):
			}
		}
	}
	return fmt.Errorf("subscription: resync %s: %d attempts: %w", h.symbol, m.cfg.MaxResyncAttempts, lastErr)
}

// runStream keeps one stream of h connected. When the reconnect budget runs
// out the whole symbol is marked failed.
func (m *Manager) runStream(ctx context.Context, h *Handle, kind string, factory feed.StreamFactory, connected *atomic.Bool) {
	defer h.wg.Done()

	runner := feed.NewRunner(h.symbol+"@"+kind, factory, m.cfg.Backoff, func(up bool) {
		connected.Store(up)
		if up && kind == "depth" {
			h.everConnected.Store(true)
		}
	}, m.logger)

	err := runner.Run(ctx)
	if errors.Is(err, domain.ErrSymbolFailed) {
		m.fail(h, err)
	}
}

// fail marks h as errored and cancels its tasks. The handle stays
// registered, reporting the error, until the next Ensure replaces it or the
// reaper removes it.
func (m *Manager) fail(h *Handle, cause error) {
	if !h.failed.CompareAndSwap(false, true) {
		return
	}
	h.cancel()
	m.logger.Error("symbol failed",
		slog.String("symbol", h.symbol),
		slog.String("error", cause.Error()),
	)
	m.record(h.symbol, "symbol_error", map[string]any{"error": cause.Error()})
}
