package subscription

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/book"
	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// Handle is one tracked symbol: its book plus the state of its streams.
type Handle struct {
	symbol string
	book   *book.Store
	events chan domain.DepthUpdate
	cancel func()
	wg     sync.WaitGroup

	depthConnected atomic.Bool
	tradeConnected atomic.Bool
	everConnected  atomic.Bool
	failed         atomic.Bool
	stopped        atomic.Bool
	resyncs        atomic.Int64
	lastAccess     atomic.Int64
}

// Symbol returns the canonical symbol.
func (h *Handle) Symbol() string { return h.symbol }

// Book returns the symbol's book store.
func (h *Handle) Book() *book.Store { return h.book }

// Snapshot reads the live book.
func (h *Handle) Snapshot() domain.OrderBookSnapshot { return h.book.Read() }

// Resyncs returns how many times the book has been reseeded.
func (h *Handle) Resyncs() int64 { return h.resyncs.Load() }

// LastAccess returns when the handle was last requested.
func (h *Handle) LastAccess() time.Time {
	return time.Unix(0, h.lastAccess.Load())
}

// State derives the subscription state from the stream and book status.
func (h *Handle) State() domain.SubscriptionState {
	switch {
	case h.failed.Load():
		return domain.StateError
	case h.stopped.Load():
		return domain.StateDisconnected
	case !h.depthConnected.Load():
		if h.everConnected.Load() {
			return domain.StateStale
		}
		return domain.StateConnecting
	case h.book.NeedsResync() || h.book.IsStale():
		return domain.StateStale
	default:
		return domain.StateLive
	}
}

func (h *Handle) touch(now time.Time) {
	h.lastAccess.Store(now.UnixNano())
}

// enqueue hands a depth update to the book worker without blocking the read
// loop. A dropped update surfaces as a sequence gap and triggers a resync.
func (h *Handle) enqueue(u domain.DepthUpdate) {
	select {
	case h.events <- u:
	default:
		telemetry.DroppedEvents.WithLabelValues(h.symbol, "depth").Inc()
	}
}

// stop cancels every task of the handle and waits for them to exit.
func (h *Handle) stop() {
	h.stopped.Store(true)
	h.cancel()
	h.wg.Wait()
}
