package book

import (
	"github.com/tidwall/btree"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const ladderDegree = 32

// ladder is one side of the book keyed by price. Bids iterate from the
// highest price, asks from the lowest. Zero quantities never stay resident.
type ladder struct {
	side   domain.Side
	levels *btree.Map[float64, float64]
}

func newLadder(side domain.Side) *ladder {
	return &ladder{side: side, levels: btree.NewMap[float64, float64](ladderDegree)}
}

// set upserts a level, or removes it when qty is not positive.
func (l *ladder) set(price, qty float64) {
	if qty <= 0 {
		l.levels.Delete(price)
		return
	}
	l.levels.Set(price, qty)
}

func (l *ladder) reset(levels []domain.PriceLevel) {
	l.levels = btree.NewMap[float64, float64](ladderDegree)
	for _, lv := range levels {
		l.set(lv.Price, lv.Quantity)
	}
}

func (l *ladder) len() int {
	return l.levels.Len()
}

// best returns the top of this side.
func (l *ladder) best() (domain.PriceLevel, bool) {
	var (
		top   domain.PriceLevel
		found bool
	)
	l.walk(func(price, qty float64) bool {
		top = domain.PriceLevel{Price: price, Quantity: qty}
		found = true
		return false
	})
	return top, found
}

// top returns up to n levels in book order; n <= 0 returns every level.
func (l *ladder) top(n int) []domain.PriceLevel {
	size := l.levels.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]domain.PriceLevel, 0, size)
	l.walk(func(price, qty float64) bool {
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
		return n <= 0 || len(out) < n
	})
	return out
}

func (l *ladder) walk(fn func(price, qty float64) bool) {
	if l.side == domain.SideBid {
		l.levels.Reverse(fn)
		return
	}
	l.levels.Scan(fn)
}
