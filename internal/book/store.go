// Package book maintains the live limit order book for one symbol: a single
// writer applies sequenced depth diffs while any number of readers take the
// last published immutable snapshot without locking.
package book

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// DefaultStaleAfter is how long a book may go without an applied update
// before reads are tagged stale.
const DefaultStaleAfter = 5 * time.Second

// Outcome is the result of applying one depth update.
type Outcome int

const (
	// OutcomeApplied means the update advanced the book.
	OutcomeApplied Outcome = iota
	// OutcomeStale means the update was already covered and was ignored.
	OutcomeStale
	// OutcomeGap means updates were missed; the book needs a resync and was
	// left untouched.
	OutcomeGap
	// OutcomeCrossed means the update produced best ask <= best bid. The
	// crossed state was not published and the book needs a resync.
	OutcomeCrossed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeGap:
		return "gap"
	case OutcomeCrossed:
		return "crossed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// NeedsResync reports whether the outcome requires a fresh depth snapshot.
func (o Outcome) NeedsResync() bool {
	return o == OutcomeGap || o == OutcomeCrossed
}

// Store is the book state for one symbol.
type Store struct {
	symbol     string
	staleAfter time.Duration
	now        func() time.Time

	mu           sync.Mutex
	bids         *ladder
	asks         *ladder
	lastUpdateID uint64

	initialized atomic.Bool
	resync      atomic.Bool
	lastApply   atomic.Int64
	published   atomic.Pointer[domain.OrderBookSnapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithStaleAfter sets the staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an uninitialised book for symbol.
func NewStore(symbol string, opts ...Option) *Store {
	s := &Store{
		symbol:     symbol,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		bids:       newLadder(domain.SideBid),
		asks:       newLadder(domain.SideAsk),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.published.Store(&domain.OrderBookSnapshot{Symbol: symbol})
	return s
}

// Symbol returns the symbol this book tracks.
func (s *Store) Symbol() string { return s.symbol }

// Seed replaces both ladders from a full-depth snapshot and clears any
// pending resync.
func (s *Store) Seed(depth domain.DepthSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bids := newLadder(domain.SideBid)
	asks := newLadder(domain.SideAsk)
	bids.reset(depth.Bids)
	asks.reset(depth.Asks)
	if crossed(bids, asks) {
		return fmt.Errorf("book: seed %s: snapshot %d is crossed", s.symbol, depth.LastUpdateID)
	}

	s.bids, s.asks = bids, asks
	s.lastUpdateID = depth.LastUpdateID
	s.initialized.Store(true)
	s.resync.Store(false)
	s.publishLocked()
	return nil
}

// Apply applies one depth update. Updates fully covered by the current
// sequence are ignored, updates past a missed range report a gap, and an
// update that crosses the book is kept out of the published view.
func (s *Store) Apply(u domain.DepthUpdate) (Outcome, error) {
	if !s.initialized.Load() {
		return OutcomeGap, domain.ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resync.Load() {
		return OutcomeGap, nil
	}
	if u.FinalUpdateID <= s.lastUpdateID {
		return OutcomeStale, nil
	}
	if u.FirstUpdateID > s.lastUpdateID+1 {
		s.resync.Store(true)
		return OutcomeGap, nil
	}

	for _, lv := range u.Bids {
		s.bids.set(lv.Price, lv.Quantity)
	}
	for _, lv := range u.Asks {
		s.asks.set(lv.Price, lv.Quantity)
	}
	s.lastUpdateID = u.FinalUpdateID

	if crossed(s.bids, s.asks) {
		s.resync.Store(true)
		return OutcomeCrossed, nil
	}
	s.publishLocked()
	return OutcomeApplied, nil
}

// Read returns the last published snapshot, tagged with its age and whether
// it is stale.
func (s *Store) Read() domain.OrderBookSnapshot {
	snap := *s.published.Load()
	if !s.initialized.Load() {
		return snap
	}
	snap.Age = s.now().Sub(s.LastUpdate())
	snap.Stale = snap.Age > s.staleAfter
	return snap
}

// NeedsResync reports whether a gap or crossed book is waiting for a reseed.
func (s *Store) NeedsResync() bool { return s.resync.Load() }

// Initialized reports whether the book has been seeded.
func (s *Store) Initialized() bool { return s.initialized.Load() }

// LastUpdate returns the time of the last successful seed or apply.
func (s *Store) LastUpdate() time.Time {
	ns := s.lastApply.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastUpdateID returns the sequence number of the published book.
func (s *Store) LastUpdateID() uint64 {
	return s.published.Load().LastUpdateID
}

// IsStale reports whether the last successful apply is older than the
// staleness threshold. An uninitialised book is stale.
func (s *Store) IsStale() bool {
	if !s.initialized.Load() {
		return true
	}
	return s.now().Sub(s.LastUpdate()) > s.staleAfter
}

func (s *Store) publishLocked() {
	now := s.now()
	s.lastApply.Store(now.UnixNano())
	s.published.Store(&domain.OrderBookSnapshot{
		Symbol:       s.symbol,
		Bids:         s.bids.top(0),
		Asks:         s.asks.top(0),
		LastUpdateID: s.lastUpdateID,
		Timestamp:    now.UTC(),
	})
}

func crossed(bids, asks *ladder) bool {
	bid, okB := bids.best()
	ask, okA := asks.best()
	return okB && okA && ask.Price <= bid.Price
}
