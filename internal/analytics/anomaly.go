package analytics

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// DetectAnomalies scans the anomaly window for quote stuffing, iceberg
// orders and flash-crash risk. An empty result means nothing was found.
func (e *Engine) DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error) {
	end := e.now().UTC()
	start := end.Add(-e.cfg.AnomalyWindow)

	snaps, err := e.loadSnapshots(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, insufficient("anomalies", 2, len(snaps))
	}
	trades, _, err := e.loadTrades(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Anomaly, 0)
	if a, ok := e.quoteStuffing(symbol, snaps, trades, end); ok {
		out = append(out, a)
	}
	out = append(out, e.icebergs(symbol, snaps, end)...)
	if a, ok := e.flashCrash(symbol, snaps, trades, end); ok {
		out = append(out, a)
	}

	if len(out) > 0 {
		e.logger.InfoContext(ctx, "anomalies detected",
			slog.String("symbol", symbol),
			slog.Int("count", len(out)),
		)
	}
	return out, nil
}

// quoteStuffing derives the book update rate from the advance of the
// exchange update id, which moves once per book change.
func (e *Engine) quoteStuffing(symbol string, snaps []domain.OrderBookSnapshot, trades []domain.AggTrade, at time.Time) (domain.Anomaly, bool) {
	first, last := snaps[0], snaps[len(snaps)-1]
	if last.LastUpdateID <= first.LastUpdateID {
		return domain.Anomaly{}, false
	}
	updates := float64(last.LastUpdateID - first.LastUpdateID)
	span := math.Max(last.Timestamp.Sub(first.Timestamp).Seconds(), 1)
	rate := updates / span
	fill := float64(len(trades)) / updates

	if rate <= e.cfg.QuoteStuffingRate || fill >= e.cfg.MaxFillRate {
		return domain.Anomaly{}, false
	}

	rates := make([]float64, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		if snaps[i].LastUpdateID <= snaps[i-1].LastUpdateID {
			continue
		}
		dt := math.Max(snaps[i].Timestamp.Sub(snaps[i-1].Timestamp).Seconds(), 1)
		rates = append(rates, float64(snaps[i].LastUpdateID-snaps[i-1].LastUpdateID)/dt)
	}
	baseline := median(rates)
	var factor float64
	if baseline > 0 {
		factor = rate / baseline
	}

	limit := e.cfg.QuoteStuffingRate
	var sev domain.Severity
	var rec string
	switch {
	case rate > 2*limit:
		sev, rec = domain.SeverityCritical, "Avoid market orders - order book is being flooded with cancelled quotes"
	case rate > 1.5*limit:
		sev, rec = domain.SeverityHigh, "Use limit orders and widen tolerances - displayed depth is unreliable"
	default:
		sev, rec = domain.SeverityMedium, "Monitor closely - elevated quote churn with few fills"
	}

	return domain.Anomaly{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Type:           domain.AnomalyQuoteStuffing,
		DetectedAt:     at,
		Confidence:     math.Min((rate-limit)/limit, 1),
		AffectedLevels: topOfBook(last),
		Severity:       sev,
		Recommendation: rec,
		QuoteStuffing: &domain.QuoteStuffingDetail{
			UpdateRate:     rate,
			FillRate:       fill,
			BaselineRate:   baseline,
			BaselineFactor: factor,
		},
	}, true
}

// icebergs flags levels whose refill count stands far above the median
// refill count of all refilling levels.
func (e *Engine) icebergs(symbol string, snaps []domain.OrderBookSnapshot, at time.Time) []domain.Anomaly {
	var refilling []*levelTrack
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		for _, t := range trackLevels(snaps, side) {
			if t.refills > 0 {
				refilling = append(refilling, t)
			}
		}
	}
	if len(refilling) == 0 {
		return nil
	}

	med := 1.0
	if len(refilling) > 1 {
		counts := make([]float64, len(refilling))
		for i, t := range refilling {
			counts[i] = float64(t.refills)
		}
		med = median(counts)
	}

	m := e.cfg.IcebergMultiplier
	var out []domain.Anomaly
	for _, t := range refilling {
		mult := float64(t.refills) / med
		if t.refills < absorptionMinRefills || mult <= m {
			continue
		}
		conf := distuv.UnitNormal.CDF((mult - m) / (0.2 * m))
		out = append(out, domain.Anomaly{
			ID:             uuid.NewString(),
			Symbol:         symbol,
			Type:           domain.AnomalyIcebergOrder,
			DetectedAt:     at,
			Confidence:     conf,
			AffectedLevels: []float64{t.price},
			Severity:       severityFromConfidence(conf),
			Recommendation: "Large hidden order detected - price may act as support/resistance",
			Iceberg: &domain.IcebergDetail{
				PriceLevel:           t.price,
				Side:                 t.side,
				RefillCount:          t.refills,
				RefillRateMultiplier: mult,
				MedianRefillRate:     med,
			},
		})
	}
	return out
}

func severityFromConfidence(conf float64) domain.Severity {
	switch {
	case conf > 0.95:
		return domain.SeverityCritical
	case conf > 0.85:
		return domain.SeverityHigh
	case conf > 0.7:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// flashCrash compares the latest snapshot against the start of the window.
func (e *Engine) flashCrash(symbol string, snaps []domain.OrderBookSnapshot, trades []domain.AggTrade, at time.Time) (domain.Anomaly, bool) {
	first, last := snaps[0], snaps[len(snaps)-1]

	var depthLoss float64
	if base := first.TotalQuantity(); base > 0 {
		depthLoss = (base - last.TotalQuantity()) / base * 100
	}

	var spreads []float64
	for _, s := range snaps[:len(snaps)-1] {
		if sp, ok := s.Spread(); ok {
			spreads = append(spreads, sp)
		}
	}
	var spreadMult float64
	if cur, ok := last.Spread(); ok {
		if avg := stat.Mean(spreads, nil); avg > 0 {
			spreadMult = cur / avg
		}
	}

	cancelRate := cancellationRate(snaps, trades)

	var moveBps float64
	m0, ok0 := first.Mid()
	m1, ok1 := last.Mid()
	if ok0 && ok1 && m0 > 0 {
		moveBps = math.Abs(m1-m0) / m0 * 1e4
	}

	c := e.cfg
	lossHit := depthLoss > c.FlashDepthLossPct
	triple := lossHit && spreadMult > c.FlashSpreadMult && cancelRate > c.FlashCancelRatePct
	if !triple && !(lossHit && moveBps > c.FlashCrashMoveBps) {
		return domain.Anomaly{}, false
	}

	conf := (depthLoss/c.FlashDepthLossPct + spreadMult/c.FlashSpreadMult + cancelRate/c.FlashCancelRatePct) / 3
	return domain.Anomaly{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		Type:           domain.AnomalyFlashCrashRisk,
		DetectedAt:     at,
		Confidence:     math.Min(conf, 1),
		AffectedLevels: topOfBook(last),
		Severity:       domain.SeverityCritical,
		Recommendation: "CRITICAL: Close positions and avoid trading - flash crash imminent",
		FlashCrash: &domain.FlashCrashDetail{
			DepthLossPct:     depthLoss,
			SpreadMultiplier: spreadMult,
			CancellationRate: cancelRate,
			PriceMoveBps:     moveBps,
		},
	}, true
}

// cancellationRate is the share of removed resting quantity that was not
// explained by trades, as a percentage.
func cancellationRate(snaps []domain.OrderBookSnapshot, trades []domain.AggTrade) float64 {
	var removed float64
	for i := 1; i < len(snaps); i++ {
		removed += reductions(snaps[i-1].Bids, snaps[i].Bids)
		removed += reductions(snaps[i-1].Asks, snaps[i].Asks)
	}
	if removed <= 0 {
		return 0
	}
	var traded float64
	for _, t := range trades {
		traded += t.Quantity
	}
	return clamp((removed-traded)/removed*100, 0, 100)
}

func reductions(prev, curr []domain.PriceLevel) float64 {
	after := levelMap(curr)
	var total float64
	for _, l := range prev {
		if q := after[l.Price]; q < l.Quantity {
			total += l.Quantity - q
		}
	}
	return total
}

func topOfBook(s domain.OrderBookSnapshot) []float64 {
	var out []float64
	if b, ok := s.BestBid(); ok {
		out = append(out, b.Price)
	}
	if a, ok := s.BestAsk(); ok {
		out = append(out, a.Price)
	}
	return out
}
