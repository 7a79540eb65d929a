package book

import (
	"errors"
	"maps"
	"math/rand/v2"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func lv(p, q float64) domain.PriceLevel { return domain.PriceLevel{Price: p, Quantity: q} }

func seeded(t *testing.T, clock *fakeClock) *Store {
	t.Helper()
	s := NewStore("BTCUSDT", WithClock(clock.Now))
	require.NoError(t, s.Seed(domain.DepthSnapshot{
		Symbol:       "BTCUSDT",
		LastUpdateID: 100,
		Bids:         []domain.PriceLevel{lv(99, 1), lv(100, 2), lv(98, 3)},
		Asks:         []domain.PriceLevel{lv(102, 1), lv(101, 2), lv(103, 3)},
	}))
	return s
}

func assertLadderInvariants(t *testing.T, snap domain.OrderBookSnapshot) {
	t.Helper()
	for i := 1; i < len(snap.Bids); i++ {
		assert.Greater(t, snap.Bids[i-1].Price, snap.Bids[i].Price, "bids descending")
	}
	for i := 1; i < len(snap.Asks); i++ {
		assert.Less(t, snap.Asks[i-1].Price, snap.Asks[i].Price, "asks ascending")
	}
	for _, l := range append(append([]domain.PriceLevel{}, snap.Bids...), snap.Asks...) {
		assert.Greater(t, l.Quantity, 0.0)
	}
	if bid, ok := snap.BestBid(); ok {
		if ask, ok := snap.BestAsk(); ok {
			assert.Less(t, bid.Price, ask.Price)
		}
	}
}

func TestSeedOrdersLadders(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)

	snap := s.Read()
	assert.Equal(t, []domain.PriceLevel{lv(100, 2), lv(99, 1), lv(98, 3)}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{lv(101, 2), lv(102, 1), lv(103, 3)}, snap.Asks)
	assert.Equal(t, uint64(100), snap.LastUpdateID)
	assert.False(t, snap.Stale)
	assert.True(t, s.Initialized())
	assertLadderInvariants(t, snap)
}

func TestApplyBeforeSeed(t *testing.T) {
	s := NewStore("BTCUSDT")
	_, err := s.Apply(domain.DepthUpdate{FirstUpdateID: 1, FinalUpdateID: 2})
	assert.True(t, errors.Is(err, domain.ErrNotInitialized))
	assert.True(t, s.Read().Empty())
	assert.True(t, s.IsStale())
}

func TestApplyUpdatesAndDeletes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)

	out, err := s.Apply(domain.DepthUpdate{
		FirstUpdateID: 95,
		FinalUpdateID: 105,
		Bids:          []domain.PriceLevel{lv(100, 0), lv(99.5, 4)},
		Asks:          []domain.PriceLevel{lv(101, 5), lv(104, 1)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)

	snap := s.Read()
	assert.Equal(t, []domain.PriceLevel{lv(99.5, 4), lv(99, 1), lv(98, 3)}, snap.Bids)
	assert.Equal(t, []domain.PriceLevel{lv(101, 5), lv(102, 1), lv(103, 3), lv(104, 1)}, snap.Asks)
	assert.Equal(t, uint64(105), s.LastUpdateID())
	assertLadderInvariants(t, snap)
}

func TestApplyStaleReplayIsIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)

	u := domain.DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 102, Bids: []domain.PriceLevel{lv(99, 7)}}
	out, err := s.Apply(u)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, out)
	before := s.Read()

	u.Bids = []domain.PriceLevel{lv(99, 0)}
	out, err = s.Apply(u)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
	assert.Equal(t, before.Bids, s.Read().Bids)
	assert.False(t, s.NeedsResync())
}

func TestApplyGapLeavesBookUntouched(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)
	before := s.Read()

	out, err := s.Apply(domain.DepthUpdate{FirstUpdateID: 150, FinalUpdateID: 160, Bids: []domain.PriceLevel{lv(100, 0)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGap, out)
	assert.True(t, out.NeedsResync())
	assert.True(t, s.NeedsResync())
	assert.Equal(t, before.Bids, s.Read().Bids)

	// Further updates are refused until a reseed.
	out, err = s.Apply(domain.DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 102})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGap, out)

	require.NoError(t, s.Seed(domain.DepthSnapshot{LastUpdateID: 170, Bids: []domain.PriceLevel{lv(100, 1)}, Asks: []domain.PriceLevel{lv(101, 1)}}))
	assert.False(t, s.NeedsResync())
	out, err = s.Apply(domain.DepthUpdate{FirstUpdateID: 171, FinalUpdateID: 171, Asks: []domain.PriceLevel{lv(101.5, 2)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, out)
}

func TestApplyCrossedBookIsNotPublished(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)
	before := s.Read()

	out, err := s.Apply(domain.DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 101, Bids: []domain.PriceLevel{lv(101.5, 1)}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCrossed, out)
	assert.True(t, s.NeedsResync())

	after := s.Read()
	assert.Equal(t, before.Bids, after.Bids)
	assert.Equal(t, before.LastUpdateID, after.LastUpdateID)
	assertLadderInvariants(t, after)
}

func TestSeedRejectsCrossedSnapshot(t *testing.T) {
	s := NewStore("BTCUSDT")
	err := s.Seed(domain.DepthSnapshot{LastUpdateID: 1, Bids: []domain.PriceLevel{lv(101, 1)}, Asks: []domain.PriceLevel{lv(100, 1)}})
	require.Error(t, err)
	assert.False(t, s.Initialized())
}

func TestReadStaleTag(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := seeded(t, clock)

	clock.Advance(4 * time.Second)
	snap := s.Read()
	assert.False(t, snap.Stale)
	assert.Equal(t, 4*time.Second, snap.Age)

	clock.Advance(2 * time.Second)
	snap = s.Read()
	assert.True(t, snap.Stale)
	assert.False(t, snap.Empty(), "stale reads are still served")
	assert.True(t, s.IsStale())

	_, err := s.Apply(domain.DepthUpdate{FirstUpdateID: 101, FinalUpdateID: 101, Bids: []domain.PriceLevel{lv(97, 1)}})
	require.NoError(t, err)
	assert.False(t, s.Read().Stale)
}

func TestLadderTopLimits(t *testing.T) {
	l := newLadder(domain.SideAsk)
	for i := 0; i < 10; i++ {
		l.set(float64(100+i), 1)
	}
	assert.Len(t, l.top(3), 3)
	assert.Len(t, l.top(0), 10)
	assert.Len(t, l.top(50), 10)
	best, ok := l.best()
	require.True(t, ok)
	assert.Equal(t, 100.0, best.Price)

	l.set(100, 0)
	assert.Equal(t, 9, l.len())
}

// modelLevels renders a price->qty map as a ladder, best first.
func modelLevels(m map[float64]float64, desc bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for p, q := range m {
		out = append(out, lv(p, q))
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

func TestRandomApplySequenceKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewStore("BTCUSDT", WithClock(clock.Now))

	bids := map[float64]float64{99: 1, 98.5: 2}
	asks := map[float64]float64{100.5: 1, 101: 2}
	id := uint64(1000)
	require.NoError(t, s.Seed(domain.DepthSnapshot{
		LastUpdateID: id,
		Bids:         modelLevels(bids, true),
		Asks:         modelLevels(asks, false),
	}))

	// Each side mostly quotes its own half of the grid; the shared 100 tick
	// and the occasional stray price make some updates cross.
	price := func(side domain.Side) float64 {
		if rng.IntN(25) == 0 {
			return 95 + float64(rng.IntN(21))*0.5
		}
		if side == domain.SideBid {
			return 95 + float64(rng.IntN(11))*0.5
		}
		return 100 + float64(rng.IntN(11))*0.5
	}
	qty := func() float64 {
		if rng.IntN(4) == 0 {
			return 0
		}
		return float64(1+rng.IntN(50)) / 10
	}
	reseed := func() {
		snap := s.Read()
		bids, asks = map[float64]float64{}, map[float64]float64{}
		for _, l := range snap.Bids {
			bids[l.Price] = l.Quantity
		}
		for _, l := range snap.Asks {
			asks[l.Price] = l.Quantity
		}
		require.NoError(t, s.Seed(domain.DepthSnapshot{LastUpdateID: id, Bids: snap.Bids, Asks: snap.Asks}))
	}

	var applied, crossedN, gaps int
	for i := 0; i < 5000; i++ {
		clock.Advance(10 * time.Millisecond)
		first := id + 1
		if rng.IntN(50) == 0 {
			first += 2
		}
		final := first + uint64(rng.IntN(3))

		u := domain.DepthUpdate{FirstUpdateID: first, FinalUpdateID: final}
		nextBids, nextAsks := maps.Clone(bids), maps.Clone(asks)
		for n := rng.IntN(4); n >= 0; n-- {
			p, q := price(domain.SideBid), qty()
			u.Bids = append(u.Bids, lv(p, q))
			setLevel(nextBids, p, q)
		}
		for n := rng.IntN(4); n >= 0; n-- {
			p, q := price(domain.SideAsk), qty()
			u.Asks = append(u.Asks, lv(p, q))
			setLevel(nextAsks, p, q)
		}

		out, err := s.Apply(u)
		require.NoError(t, err)
		id = final
		switch out {
		case OutcomeApplied:
			applied++
			bids, asks = nextBids, nextAsks
		case OutcomeCrossed:
			crossedN++
			reseed()
		case OutcomeGap:
			gaps++
			reseed()
		default:
			t.Fatalf("update %d: unexpected outcome %s", i, out)
		}

		snap := s.Read()
		assertLadderInvariants(t, snap)
		require.Equal(t, modelLevels(bids, true), snap.Bids, "update %d bids", i)
		require.Equal(t, modelLevels(asks, false), snap.Asks, "update %d asks", i)
	}
	assert.Greater(t, applied, 100)
	assert.Positive(t, crossedN)
	assert.Positive(t, gaps)
}

func setLevel(m map[float64]float64, price, qty float64) {
	if qty == 0 {
		delete(m, price)
		return
	}
	m[price] = qty
}
