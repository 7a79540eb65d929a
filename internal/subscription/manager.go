// Package subscription owns the set of tracked symbols. It seeds each book
// from the REST depth endpoint, keeps the depth and trade streams running,
// resyncs on sequence gaps and tears idle symbols down.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/depthwatch/internal/book"
	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/feed"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// Fetcher loads a full-depth book over REST.
type Fetcher interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (domain.DepthSnapshot, error)
}

// TradeSink receives every aggregate trade from the trade streams.
type TradeSink interface {
	Add(trade domain.AggTrade)
}

// Config tunes the manager.
type Config struct {
	MaxSubscriptions  int
	DepthLimit        int
	StaleAfter        time.Duration
	IdleTimeout       time.Duration
	MaxResyncAttempts int
	ResyncDelay       time.Duration
	EventBuffer       int
	InitTimeout       time.Duration
	Backoff           feed.Backoff
	// Pinned symbols are never reaped.
	Pinned []string
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions:  20,
		DepthLimit:        100,
		StaleAfter:        book.DefaultStaleAfter,
		IdleTimeout:       30 * time.Minute,
		MaxResyncAttempts: 3,
		ResyncDelay:       time.Second,
		EventBuffer:       1024,
		InitTimeout:       45 * time.Second,
		Backoff:           feed.DefaultBackoff,
	}
}

// Manager tracks symbols on demand.
type Manager struct {
	cfg     Config
	fetcher Fetcher
	streams Streams
	trades  TradeSink
	journal domain.Journal
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	group  singleflight.Group

	mu       sync.Mutex
	subs     map[string]*Handle
	starting int
	pinned   map[string]bool
	closed   bool
}

// NewManager creates a Manager. trades and journal may be nil.
func NewManager(cfg Config, fetcher Fetcher, streams Streams, trades TradeSink, journal domain.Journal, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = def.MaxSubscriptions
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = def.DepthLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaxResyncAttempts <= 0 {
		cfg.MaxResyncAttempts = def.MaxResyncAttempts
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = def.InitTimeout
	}

	pinned := make(map[string]bool, len(cfg.Pinned))
	for _, s := range cfg.Pinned {
		if sym, err := domain.NormalizeSymbol(s); err == nil {
			pinned[sym] = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		streams: streams,
		trades:  trades,
		journal: journal,
		logger:  logger.With(slog.String("component", "subscription_manager")),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[string]*Handle),
		pinned:  pinned,
	}
}

// Ensure returns the live handle for symbol, creating the subscription on
// first use. Concurrent first calls share one initialisation. A failed seed
// registers nothing and may be retried.
func (m *Manager) Ensure(ctx context.Context, symbol string) (*Handle, error) {
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if h, ok := m.lookup(symbol); ok {
		return h, nil
	}

	ch := m.group.DoChan(symbol, func() (any, error) {
		return m.create(symbol)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		h := res.Val.(*Handle)
		h.touch(m.now())
		return h, nil
	}
}

// lookup returns a healthy existing handle. A handle in the error state is
// torn down so the caller recreates it.
func (m *Manager) lookup(symbol string) (*Handle, bool) {
	m.mu.Lock()
	h, ok := m.subs[symbol]
	if ok && h.failed.Load() {
		delete(m.subs, symbol)
		telemetry.ActiveSubscriptions.Set(float64(len(m.subs)))
		m.mu.Unlock()
		h.stop()
		return nil, false
	}
	m.mu.Unlock()
	if ok {
		h.touch(m.now())
	}
	return h, ok
}

func (m *Manager) create(symbol string) (*Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscription: manager closed")
	}
	if h, ok := m.subs[symbol]; ok {
		m.mu.Unlock()
		return h, nil
	}
	if len(m.subs)+m.starting >= m.cfg.MaxSubscriptions {
		m.mu.Unlock()
		return nil, fmt.Errorf("subscription: %s: %d active: %w", symbol, m.cfg.MaxSubscriptions, domain.ErrCapacityExceeded)
	}
	m.starting++
	m.mu.Unlock()

	h, err := m.start(symbol)

	m.mu.Lock()
	m.starting--
	if err == nil {
		m.subs[symbol] = h
		telemetry.ActiveSubscriptions.Set(float64(len(m.subs)))
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.WarnContext(m.ctx, "subscription failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	m.logger.InfoContext(m.ctx, "subscription created",
		slog.String("symbol", symbol),
		slog.Uint64("last_update_id", h.book.LastUpdateID()),
	)
	m.record(symbol, "subscription_created", map[string]any{"last_update_id": h.book.LastUpdateID()})
	return h, nil
}

// start opens the depth stream first so diffs published while the REST
// snapshot is in flight queue up, then seeds the book and starts applying.
func (m *Manager) start(symbol string) (*Handle, error) {
	subCtx, cancel := context.WithCancel(m.ctx)
	h := &Handle{
		symbol: symbol,
		book:   book.NewStore(symbol, book.WithStaleAfter(m.cfg.StaleAfter), book.WithClock(m.now)),
		events: make(chan domain.DepthUpdate, m.cfg.EventBuffer),
		cancel: cancel,
	}
	h.touch(m.now())

	h.wg.Add(1)
	go m.runStream(subCtx, h, "depth", func() feed.Stream {
		return m.streams.DepthStream(symbol, h.enqueue)
	}, &h.depthConnected)

	initCtx, initCancel := context.WithTimeout(subCtx, m.cfg.InitTimeout)
	depth, err := m.fetcher.FetchDepth(initCtx, symbol, m.cfg.DepthLimit)
	initCancel()
	if err == nil {
		err = h.book.Seed(depth)
	}
	if err != nil {
		h.stop()
		return nil, fmt.Errorf("subscription: seed %s: %w", symbol, err)
	}

	h.wg.Add(2)
	go m.runBook(subCtx, h)
	go m.runStream(subCtx, h, "trade", func() feed.Stream {
		return m.streams.TradeStream(symbol, m.addTrade)
	}, &h.tradeConnected)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		h.wg.Wait()
	}()
	return h, nil
}

func (m *Manager) addTrade(t domain.AggTrade) {
	if m.trades != nil {
		m.trades.Add(t)
	}
}

// Get returns the handle of a tracked symbol without subscribing. A hit
// counts as an access.
func (m *Manager) Get(symbol string) (*Handle, bool) {
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	h, ok := m.subs[symbol]
	m.mu.Unlock()
	if ok {
		h.touch(m.now())
	}
	return h, ok
}

// Snapshot reads the live book of a tracked symbol. It does not count as an
// access, so background capture never keeps a symbol from being reaped.
func (m *Manager) Snapshot(symbol string) (domain.OrderBookSnapshot, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	m.mu.Lock()
	h, ok := m.subs[sym]
	m.mu.Unlock()
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("subscription: %s: %w", sym, domain.ErrNotSubscribed)
	}
	return h.Snapshot(), nil
}

// Read returns the live book for symbol, subscribing on first use.
func (m *Manager) Read(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	h, err := m.Ensure(ctx, symbol)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return h.Snapshot(), nil
}

// Symbols returns the tracked symbols in sorted order.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.subs))
	for s := range m.subs {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Remove stops tracking symbol and waits for its streams to exit.
func (m *Manager) Remove(symbol string) error {
	symbol, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	m.mu.Lock()
	h, ok := m.subs[symbol]
	delete(m.subs, symbol)
	telemetry.ActiveSubscriptions.Set(float64(len(m.subs)))
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("subscription: %s: %w", symbol, domain.ErrNotFound)
	}

	h.stop()
	m.logger.Info("subscription removed", slog.String("symbol", symbol))
	m.record(symbol, "subscription_removed", nil)
	return nil
}

// Close stops every subscription and waits for all stream tasks.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*Handle, 0, len(m.subs))
	for _, h := range m.subs {
		handles = append(handles, h)
	}
	m.subs = make(map[string]*Handle)
	m.mu.Unlock()

	m.cancel()
	for _, h := range handles {
		h.stop()
	}
	m.wg.Wait()
	telemetry.ActiveSubscriptions.Set(0)
	return nil
}

// RunReaper removes subscriptions idle for longer than the idle timeout. It
// returns when ctx is cancelled. A zero idle timeout disables reaping.
func (m *Manager) RunReaper(ctx context.Context) error {
	if m.cfg.IdleTimeout <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := min(m.cfg.IdleTimeout/2, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	var idle []string
	m.mu.Lock()
	for s, h := range m.subs {
		if !m.pinned[s] && h.LastAccess().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := m.Remove(s); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.logger.Warn("reap failed", slog.String("symbol", s), slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("idle subscription reaped", slog.String("symbol", s))
	}
	return len(idle)
}

// Health summarises freshness across all tracked symbols.
func (m *Manager) Health() domain.BookHealth {
	now := m.now()
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.subs))
	for _, h := range m.subs {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].symbol < handles[j].symbol })

	health := domain.BookHealth{
		Status:        domain.FeedOk,
		ActiveSymbols: len(handles),
		Symbols:       make([]domain.SymbolHealth, 0, len(handles)),
		Timestamp:     now.UTC(),
	}
	var failed, stale, connecting []string
	for _, h := range handles {
		age := now.Sub(h.book.LastUpdate())
		sh := domain.SymbolHealth{
			Symbol:          h.symbol,
			State:           h.State(),
			LastUpdateAgeMs: age.Milliseconds(),
			Connected:       h.depthConnected.Load(),
			Resyncs:         h.resyncs.Load(),
		}
		health.Symbols = append(health.Symbols, sh)
		health.MaxUpdateAgeMs = max(health.MaxUpdateAgeMs, sh.LastUpdateAgeMs)
		health.WebsocketConnected = health.WebsocketConnected || sh.Connected

		switch {
		case sh.State == domain.StateError:
			failed = append(failed, h.symbol)
		case sh.State == domain.StateConnecting:
			connecting = append(connecting, h.symbol)
		case sh.State == domain.StateStale || age > m.cfg.StaleAfter:
			stale = append(stale, h.symbol)
		}
	}

	switch {
	case len(failed) > 0:
		health.Status = domain.FeedError
		health.Reason = fmt.Sprintf("symbols failed: %v", failed)
	case len(handles) > len(connecting) && !health.WebsocketConnected:
		health.Status = domain.FeedError
		health.Reason = "no stream connected"
	case len(stale) > 0:
		health.Status = domain.FeedDegraded
		health.Reason = fmt.Sprintf("symbols stale: %v", stale)
	case len(connecting) > 0:
		health.Status = domain.FeedDegraded
		health.Reason = fmt.Sprintf("symbols connecting: %v", connecting)
	}
	return health
}

func (m *Manager) record(symbol, event string, detail map[string]any) {
	if m.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.journal.Record(ctx, symbol, event, detail); err != nil {
		m.logger.Warn("journal write failed",
			slog.String("symbol", symbol),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
