package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/metrics"
)

const (
	defaultStopPct = 0.02
	// stopBuffer pushes the stop 0.2% past the anchor into solid liquidity.
	stopBuffer = 0.002
)

// StopPlacement suggests a stop for a position opened at the latest mid
// price. Vacuums come from the window; walls from the latest snapshot.
func (e *Engine) StopPlacement(ctx context.Context, symbol string, dir domain.PositionDirection, window time.Duration) (domain.StopSuggestion, error) {
	if dir != domain.DirectionLong && dir != domain.DirectionShort {
		return domain.StopSuggestion{}, fmt.Errorf("%w: %q", domain.ErrInvalidDirection, dir)
	}
	if err := e.checkWindow(window, MinVacuumWindow, MaxVacuumWindow); err != nil {
		return domain.StopSuggestion{}, err
	}
	end := e.now().UTC()
	snaps, err := e.loadSnapshots(ctx, symbol, end.Add(-window), end)
	if err != nil {
		return domain.StopSuggestion{}, err
	}
	if len(snaps) == 0 {
		return domain.StopSuggestion{}, insufficient("stop_placement", 1, 0)
	}
	latest := snaps[len(snaps)-1]
	mid, ok := latest.Mid()
	if !ok {
		return domain.StopSuggestion{}, insufficient("stop_placement", 1, 0)
	}

	vacuums := e.vacuumsIn(symbol, snaps, end)
	walls := metrics.Walls(latest, e.cfg.WallMultiplier, e.cfg.WallDepth)
	s := RecommendStop(mid, dir, vacuums, walls)
	s.Symbol = symbol
	return s, nil
}

// RecommendStop places a long's stop just below the nearest vacuum or wall
// under price, and a short's just above the nearest one over price. Without
// either it falls back to a 2% stop. dir must be long or short.
func RecommendStop(price float64, dir domain.PositionDirection, vacuums []domain.LiquidityVacuum, walls []domain.Wall) domain.StopSuggestion {
	long := dir == domain.DirectionLong
	out := domain.StopSuggestion{Direction: dir, ReferencePrice: price, Anchor: domain.AnchorDefault}

	// near is the anchor edge closest to price; far is the edge the stop
	// sits beyond.
	bestDist := math.Inf(1)
	consider := func(anchor domain.StopAnchor, near, far, low, high float64) {
		dist := math.Abs(price - near)
		if dist >= bestDist {
			return
		}
		bestDist = dist
		out.Anchor = anchor
		out.AnchorLow, out.AnchorHigh = low, high
		if long {
			out.StopPrice = far * (1 - stopBuffer)
		} else {
			out.StopPrice = far * (1 + stopBuffer)
		}
	}
	for _, v := range vacuums {
		switch {
		case long && v.PriceHigh < price:
			consider(domain.AnchorVacuum, v.PriceHigh, v.PriceLow, v.PriceLow, v.PriceHigh)
		case !long && v.PriceLow > price:
			consider(domain.AnchorVacuum, v.PriceLow, v.PriceHigh, v.PriceLow, v.PriceHigh)
		}
	}
	for _, w := range walls {
		switch {
		case long && w.Side == domain.SideBid && w.Price < price:
			consider(domain.AnchorWall, w.Price, w.Price, w.Price, w.Price)
		case !long && w.Side == domain.SideAsk && w.Price > price:
			consider(domain.AnchorWall, w.Price, w.Price, w.Price, w.Price)
		}
	}

	switch out.Anchor {
	case domain.AnchorVacuum:
		out.Explanation = fmt.Sprintf("stop at %.8g beyond liquidity vacuum %.8g-%.8g; thin book there invites wicks",
			out.StopPrice, out.AnchorLow, out.AnchorHigh)
	case domain.AnchorWall:
		out.Explanation = fmt.Sprintf("stop at %.8g behind resting wall at %.8g", out.StopPrice, out.AnchorLow)
	default:
		if long {
			out.StopPrice = price * (1 - defaultStopPct)
		} else {
			out.StopPrice = price * (1 + defaultStopPct)
		}
		out.Explanation = "no vacuum or wall on the stop side; using a 2% stop"
	}
	if price > 0 {
		out.DistanceBps = math.Abs(price-out.StopPrice) / price * 10000
	}
	return out
}
