package analytics

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Component weights of the composite score.
const (
	weightSpread = 0.25
	weightDepth  = 0.35
	weightFlow   = 0.25
	weightUpdate = 0.15

	weakComponent = 50.0
	criticalBelow = 20.0
)

// MicrostructureHealth scores the health window on a 0-100 scale.
func (e *Engine) MicrostructureHealth(ctx context.Context, symbol string) (domain.MicrostructureHealth, error) {
	end := e.now().UTC()
	snaps, err := e.loadSnapshots(ctx, symbol, end.Add(-e.cfg.HealthWindow), end)
	if err != nil {
		return domain.MicrostructureHealth{}, err
	}
	if len(snaps) < 2 {
		return domain.MicrostructureHealth{}, insufficient("microstructure_health", 2, len(snaps))
	}

	h := domain.MicrostructureHealth{
		Symbol:          symbol,
		Timestamp:       end,
		SpreadStability: spreadStabilityScore(snaps),
		LiquidityDepth:  liquidityDepthScore(snaps),
		FlowBalance:     flowBalanceScore(levelAdditions(snaps)),
		UpdateRate:      e.updateRateScore(snaps),
		Samples:         len(snaps),
		Warnings:        []string{},
	}
	h.OverallScore = h.SpreadStability*weightSpread +
		h.LiquidityDepth*weightDepth +
		h.FlowBalance*weightFlow +
		h.UpdateRate*weightUpdate
	h.Level, h.Recommendation = healthLevel(h.OverallScore)
	h.Status = e.healthStatus(h.OverallScore)

	if h.SpreadStability < weakComponent {
		h.Warnings = append(h.Warnings, "spread is unstable")
	}
	if h.LiquidityDepth < weakComponent {
		h.Warnings = append(h.Warnings, "resting depth is below the window average")
	}
	if h.FlowBalance < weakComponent {
		h.Warnings = append(h.Warnings, "order flow is one-sided")
	}
	if h.UpdateRate < weakComponent {
		h.Warnings = append(h.Warnings, "snapshot coverage has gaps")
	}
	return h, nil
}

// spreadStabilityScore maps the coefficient of variation of the spread to a
// score: a CV of 50% or more scores zero.
func spreadStabilityScore(snaps []domain.OrderBookSnapshot) float64 {
	var spreads []float64
	for _, s := range snaps {
		if sp, ok := s.Spread(); ok {
			spreads = append(spreads, sp)
		}
	}
	if len(spreads) == 0 {
		return 0
	}
	cv := 100.0
	if m := stat.Mean(spreads, nil); m > 0 {
		cv = stat.PopStdDev(spreads, nil) / m * 100
	}
	return math.Max(100-math.Min(cv, 50)*2, 0)
}

// liquidityDepthScore is 50 when the latest depth equals the window average.
func liquidityDepthScore(snaps []domain.OrderBookSnapshot) float64 {
	depths := make([]float64, len(snaps))
	for i, s := range snaps {
		depths[i] = s.TotalQuantity()
	}
	avg := stat.Mean(depths, nil)
	if avg == 0 {
		return 0
	}
	return clamp(depths[len(depths)-1]/avg*50, 0, 100)
}

func flowBalanceScore(bidAdds, askAdds int) float64 {
	total := float64(bidAdds + askAdds)
	if total == 0 {
		return 100
	}
	imbalance := math.Abs(float64(bidAdds)/total-0.5) * 2
	return math.Max((1-imbalance)*100, 0)
}

// updateRateScore is the share of expected snapshots actually present.
func (e *Engine) updateRateScore(snaps []domain.OrderBookSnapshot) float64 {
	span := snaps[len(snaps)-1].Timestamp.Sub(snaps[0].Timestamp)
	if span <= 0 {
		return 0
	}
	expected := span.Seconds() / e.cfg.SnapshotInterval.Seconds()
	return clamp(float64(len(snaps)-1)/expected*100, 0, 100)
}

func healthLevel(score float64) (level, recommendation string) {
	switch {
	case score >= 80:
		return "Excellent", "Market conditions optimal - safe to execute large orders"
	case score >= 60:
		return "Good", "Market conditions healthy - normal trading recommended"
	case score >= 40:
		return "Fair", "Market conditions acceptable - use limit orders and monitor closely"
	case score >= 20:
		return "Poor", "Market conditions degraded - reduce position sizes and avoid market orders"
	default:
		return "Critical", "Market conditions unhealthy - avoid trading until conditions improve"
	}
}

func (e *Engine) healthStatus(score float64) domain.HealthStatus {
	switch {
	case score >= e.cfg.DegradedBelow:
		return domain.HealthHealthy
	case score >= e.cfg.PoorBelow:
		return domain.HealthDegraded
	case score >= criticalBelow:
		return domain.HealthPoor
	default:
		return domain.HealthCritical
	}
}
