package analytics

import (
	"sort"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const (
	// consumeFraction is the quantity drop that marks a level as consumed.
	consumeFraction = 0.20
	// refillTolerance is how close to its prior size a level must return.
	refillTolerance = 0.20
)

// levelTrack is the refill history of one price level across a window.
type levelTrack struct {
	price    float64
	side     domain.Side
	refills  int
	consumed float64
	sumQty   float64
	samples  int
	first    time.Time
	last     time.Time

	prev    float64
	prior   float64
	trough  float64
	pending bool
}

func (t *levelTrack) avgQty() float64 {
	if t.samples == 0 {
		return 0
	}
	return t.sumQty / float64(t.samples)
}

func (t *levelTrack) observe(q float64, at time.Time) {
	if q > 0 {
		t.sumQty += q
		t.samples++
	}
	if !t.pending {
		if t.prev > 0 && q < t.prev*(1-consumeFraction) {
			t.pending = true
			t.prior = t.prev
			t.trough = q
		}
		t.prev = q
		return
	}

	t.trough = min(t.trough, q)
	switch {
	case q >= t.prior*(1-refillTolerance) && q <= t.prior*(1+refillTolerance):
		t.refills++
		t.consumed += t.prior - t.trough
		if t.first.IsZero() {
			t.first = at
		}
		t.last = at
		t.pending = false
	case q > t.prior*(1+refillTolerance):
		t.pending = false
	}
	t.prev = q
}

// trackLevels follows every price seen on side through snapshots, which
// must be oldest first. A level absent from a snapshot has zero quantity.
func trackLevels(snaps []domain.OrderBookSnapshot, side domain.Side) []*levelTrack {
	tracks := make(map[float64]*levelTrack)
	for _, s := range snaps {
		for _, l := range sideLevels(s, side) {
			if _, ok := tracks[l.Price]; !ok {
				tracks[l.Price] = &levelTrack{price: l.Price, side: side}
			}
		}
	}
	for _, s := range snaps {
		qty := levelMap(sideLevels(s, side))
		for price, t := range tracks {
			t.observe(qty[price], s.Timestamp)
		}
	}

	out := make([]*levelTrack, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].price < out[j].price })
	return out
}

// sideQuantities collects every non-zero level quantity on side.
func sideQuantities(snaps []domain.OrderBookSnapshot, side domain.Side) []float64 {
	var out []float64
	for _, s := range snaps {
		for _, l := range sideLevels(s, side) {
			if l.Quantity > 0 {
				out = append(out, l.Quantity)
			}
		}
	}
	return out
}
