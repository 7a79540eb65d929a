package analytics

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// LiquidityVacuums reports contiguous runs of thin levels in the latest
// snapshot of the window, measured against the median level size across the
// whole window.
func (e *Engine) LiquidityVacuums(ctx context.Context, symbol string, window time.Duration) ([]domain.LiquidityVacuum, error) {
	if err := e.checkWindow(window, MinVacuumWindow, MaxVacuumWindow); err != nil {
		return nil, err
	}
	end := e.now().UTC()
	snaps, err := e.loadSnapshots(ctx, symbol, end.Add(-window), end)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, insufficient("liquidity_vacuum", 1, 0)
	}
	return e.vacuumsIn(symbol, snaps, end), nil
}

// vacuumsIn scans the last of snaps against the median level size of all of
// them.
func (e *Engine) vacuumsIn(symbol string, snaps []domain.OrderBookSnapshot, at time.Time) []domain.LiquidityVacuum {
	var sizes []float64
	sizes = append(sizes, sideQuantities(snaps, domain.SideBid)...)
	sizes = append(sizes, sideQuantities(snaps, domain.SideAsk)...)
	med := median(sizes)

	latest := snaps[len(snaps)-1]
	out := make([]domain.LiquidityVacuum, 0)
	if med <= 0 {
		return out
	}
	threshold := med * e.cfg.VacuumThreshold
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		out = append(out, findVacuums(symbol, side, sideLevels(latest, side), med, threshold, at)...)
	}
	return out
}

func findVacuums(symbol string, side domain.Side, levels []domain.PriceLevel, med, threshold float64, at time.Time) []domain.LiquidityVacuum {
	var out []domain.LiquidityVacuum
	var run []domain.PriceLevel
	flush := func() {
		if len(run) == 0 {
			return
		}
		low, high := math.Inf(1), math.Inf(-1)
		var qty float64
		for _, l := range run {
			low = math.Min(low, l.Price)
			high = math.Max(high, l.Price)
			qty += l.Quantity
		}
		actual := qty / float64(len(run))
		deficit := (med - actual) / med * 100
		out = append(out, domain.LiquidityVacuum{
			ID:           uuid.NewString(),
			Symbol:       symbol,
			Side:         side,
			PriceLow:     low,
			PriceHigh:    high,
			DeficitPct:   deficit,
			MedianVolume: med,
			ActualVolume: actual,
			Impact:       impactFor(deficit),
			DetectedAt:   at,
		})
		run = run[:0]
	}
	for _, l := range levels {
		if l.Quantity < threshold {
			run = append(run, l)
			continue
		}
		flush()
	}
	flush()
	return out
}

func impactFor(deficitPct float64) domain.ImpactLevel {
	switch {
	case deficitPct > 80:
		return domain.ImpactFastMovement
	case deficitPct > 50:
		return domain.ImpactModerateMovement
	default:
		return domain.ImpactNegligible
	}
}
