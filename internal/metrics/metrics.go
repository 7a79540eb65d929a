// Package metrics derives best-of-book and depth metrics from an order book
// snapshot. Every function is pure: the same snapshot yields the same result.
package metrics

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const (
	// DefaultLevels is the L2 depth returned when the caller does not ask.
	DefaultLevels = 20
	// MaxLevels caps an L2 request.
	MaxLevels = 100

	// PriceScale and QtyScale are the fixed-point factors of the compact L2
	// arrays.
	PriceScale = 100
	QtyScale   = 100_000
)

// Config tunes the L1 computation.
type Config struct {
	// ImbalanceDepth is how many levels per side feed imbalance and walls.
	ImbalanceDepth int
	// WallMultiplier flags levels larger than this multiple of the side
	// average.
	WallMultiplier float64
	// SlippageNotionals are the quote-currency sizes to estimate fills for on
	// both sides.
	SlippageNotionals []float64
}

// DefaultConfig returns the stock L1 settings.
func DefaultConfig() Config {
	return Config{
		ImbalanceDepth:    20,
		WallMultiplier:    5,
		SlippageNotionals: []float64{10_000, 25_000, 50_000},
	}
}

// SpreadBps returns (ask-bid)/mid in basis points, or false when either side
// is empty.
func SpreadBps(snap domain.OrderBookSnapshot) (float64, bool) {
	spread, ok := snap.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := snap.Mid()
	if mid <= 0 {
		return 0, false
	}
	return spread / mid * 10000, true
}

// Microprice weights each side's best price by the opposite side's size, so
// the result leans towards the side that is about to be consumed. It always
// lies within [best bid, best ask].
func Microprice(snap domain.OrderBookSnapshot) (float64, bool) {
	bid, okB := snap.BestBid()
	ask, okA := snap.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	total := bid.Quantity + ask.Quantity
	if total <= 0 {
		return (bid.Price + ask.Price) / 2, true
	}
	return (bid.Price*ask.Quantity + ask.Price*bid.Quantity) / total, true
}

// Imbalance returns (bidVol-askVol)/(bidVol+askVol) over the top depth levels
// of each side. The result is in [-1, 1]; an empty book gives 0.
func Imbalance(snap domain.OrderBookSnapshot, depth int) float64 {
	bidVol := sideVolume(snap.Bids, depth)
	askVol := sideVolume(snap.Asks, depth)
	total := bidVol + askVol
	if total <= 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// Walls returns the levels among the top depth of each side whose quantity
// exceeds multiplier times that side's average.
func Walls(snap domain.OrderBookSnapshot, multiplier float64, depth int) []domain.Wall {
	walls := sideWalls(domain.SideBid, head(snap.Bids, depth), multiplier)
	return append(walls, sideWalls(domain.SideAsk, head(snap.Asks, depth), multiplier)...)
}

func sideWalls(side domain.Side, levels []domain.PriceLevel, multiplier float64) []domain.Wall {
	if len(levels) == 0 {
		return nil
	}
	avg := sideVolume(levels, 0) / float64(len(levels))
	if avg <= 0 {
		return nil
	}
	var out []domain.Wall
	for _, l := range levels {
		if l.Quantity > multiplier*avg {
			out = append(out, domain.Wall{
				Side:     side,
				Price:    l.Price,
				Quantity: l.Quantity,
				Multiple: l.Quantity / avg,
			})
		}
	}
	return out
}

// Slippage walks the opposite ladder to fill notional (quote currency) and
// reports the average fill price and its distance from mid. A buy consumes
// asks; a sell consumes bids.
func Slippage(snap domain.OrderBookSnapshot, side domain.OrderSide, notional float64) domain.SlippageEstimate {
	est := domain.SlippageEstimate{Side: side, TargetNotional: notional}
	levels := snap.Asks
	if side == domain.OrderSideSell {
		levels = snap.Bids
	}

	remaining := notional
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		levelNotional := l.Price * l.Quantity
		take := math.Min(levelNotional, remaining)
		est.FilledNotional += take
		est.FilledQuantity += take / l.Price
		est.LevelsConsumed++
		remaining -= take
	}
	est.Complete = notional > 0 && remaining <= notional*1e-9

	if est.FilledQuantity > 0 {
		est.AvgPrice = est.FilledNotional / est.FilledQuantity
		if mid, ok := snap.Mid(); ok && mid > 0 {
			est.SlippageBps = math.Abs(est.AvgPrice-mid) / mid * 10000
		}
	}
	return est
}

// L1 computes the best-of-book metrics.
func L1(snap domain.OrderBookSnapshot, cfg Config) domain.L1Metrics {
	m := domain.L1Metrics{
		Symbol:     snap.Symbol,
		LastUpdate: snap.LastUpdateID,
		Timestamp:  snap.Timestamp,
		Stale:      snap.Stale,
		AgeMs:      snap.Age.Milliseconds(),
		Imbalance:  Imbalance(snap, cfg.ImbalanceDepth),
		BidVolume:  sideVolume(snap.Bids, cfg.ImbalanceDepth),
		AskVolume:  sideVolume(snap.Asks, cfg.ImbalanceDepth),
		Walls:      Walls(snap, cfg.WallMultiplier, cfg.ImbalanceDepth),
	}
	if bid, ok := snap.BestBid(); ok {
		m.BestBid, m.BestBidQty = bid.Price, bid.Quantity
	}
	if ask, ok := snap.BestAsk(); ok {
		m.BestAsk, m.BestAskQty = ask.Price, ask.Quantity
	}
	m.MidPrice, _ = snap.Mid()
	m.SpreadBps, _ = SpreadBps(snap)
	m.Microprice, _ = Microprice(snap)

	for _, n := range cfg.SlippageNotionals {
		m.Slippage = append(m.Slippage,
			Slippage(snap, domain.OrderSideBuy, n),
			Slippage(snap, domain.OrderSideSell, n),
		)
	}
	return m
}

// L2 returns up to levels levels per side. Asking for more than the book
// holds returns what is available.
func L2(snap domain.OrderBookSnapshot, levels int) (domain.L2Depth, error) {
	if levels < 1 || levels > MaxLevels {
		return domain.L2Depth{}, fmt.Errorf("metrics: levels %d outside 1..%d: %w", levels, MaxLevels, domain.ErrInvalidLevels)
	}
	bids := head(snap.Bids, levels)
	asks := head(snap.Asks, levels)

	d := domain.L2Depth{
		Symbol:     snap.Symbol,
		Levels:     levels,
		PriceScale: PriceScale,
		QtyScale:   QtyScale,
		BidPrices:  make([]float64, len(bids)),
		BidQtys:    make([]float64, len(bids)),
		AskPrices:  make([]float64, len(asks)),
		AskQtys:    make([]float64, len(asks)),
		BidsScaled: make([][2]int64, len(bids)),
		AsksScaled: make([][2]int64, len(asks)),
		LastUpdate: snap.LastUpdateID,
		Timestamp:  snap.Timestamp,
		Stale:      snap.Stale,
		AgeMs:      snap.Age.Milliseconds(),
	}
	for i, l := range bids {
		d.BidPrices[i], d.BidQtys[i] = l.Price, l.Quantity
		d.BidsScaled[i] = scaled(l)
	}
	for i, l := range asks {
		d.AskPrices[i], d.AskQtys[i] = l.Price, l.Quantity
		d.AsksScaled[i] = scaled(l)
	}
	return d, nil
}

func scaled(l domain.PriceLevel) [2]int64 {
	return [2]int64{
		int64(math.Round(l.Price * PriceScale)),
		int64(math.Round(l.Quantity * QtyScale)),
	}
}

func head(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if n > 0 && n < len(levels) {
		return levels[:n]
	}
	return levels
}

func sideVolume(levels []domain.PriceLevel, depth int) float64 {
	var v float64
	for _, l := range head(levels, depth) {
		v += l.Quantity
	}
	return v
}
