package analytics

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const (
	absorptionMinRefills   = 3
	absorptionVolumeFactor = 5.0
	marketMakerRefills     = 5
)

// OrderFlow measures aggressor activity from trades and resting-book
// pressure from snapshot deltas over the trailing window.
func (e *Engine) OrderFlow(ctx context.Context, symbol string, window time.Duration) (domain.OrderFlow, error) {
	if err := e.checkWindow(window, MinFlowWindow, MaxFlowWindow); err != nil {
		return domain.OrderFlow{}, err
	}
	end := e.now().UTC()
	start := end.Add(-window)

	snaps, err := e.loadSnapshots(ctx, symbol, start, end)
	if err != nil {
		return domain.OrderFlow{}, err
	}
	trades, _, err := e.loadTrades(ctx, symbol, start, end)
	if err != nil {
		return domain.OrderFlow{}, err
	}
	if len(trades) == 0 && len(snaps) < 2 {
		return domain.OrderFlow{}, insufficient("order_flow", 2, len(snaps))
	}

	secs := window.Seconds()
	f := domain.OrderFlow{
		Symbol:      symbol,
		WindowStart: start,
		WindowEnd:   end,
		WindowSecs:  secs,
	}
	for _, t := range trades {
		if t.AggressorBuy() {
			f.BuyVolume += t.Quantity
			f.BuyCount++
		} else {
			f.SellVolume += t.Quantity
			f.SellCount++
		}
	}
	f.BuyRate = f.BuyVolume / secs
	f.SellRate = f.SellVolume / secs
	f.NetFlow = f.BuyVolume - f.SellVolume

	bidAdds, askAdds := levelAdditions(snaps)
	f.BidFlowRate = float64(bidAdds) / secs
	f.AskFlowRate = float64(askAdds) / secs
	f.CumulativeDelta = cumulativeDelta(snaps)

	if bidAdds+askAdds > 0 {
		f.Direction = flowDirection(f.BidFlowRate, f.AskFlowRate)
	} else {
		f.Direction = flowDirection(f.BuyVolume, f.SellVolume)
	}
	return f, nil
}

// levelAdditions counts, over consecutive snapshot pairs, the levels whose
// quantity grew or that newly appeared.
func levelAdditions(snaps []domain.OrderBookSnapshot) (bids, asks int) {
	for i := 1; i < len(snaps); i++ {
		bids += additions(snaps[i-1].Bids, snaps[i].Bids)
		asks += additions(snaps[i-1].Asks, snaps[i].Asks)
	}
	return bids, asks
}

func additions(prev, curr []domain.PriceLevel) int {
	before := levelMap(prev)
	n := 0
	for _, l := range curr {
		if l.Quantity > before[l.Price] {
			n++
		}
	}
	return n
}

func cumulativeDelta(snaps []domain.OrderBookSnapshot) float64 {
	var delta float64
	for i := 1; i < len(snaps); i++ {
		bid := levelVolume(snaps[i].Bids) - levelVolume(snaps[i-1].Bids)
		ask := levelVolume(snaps[i].Asks) - levelVolume(snaps[i-1].Asks)
		delta += math.Abs(bid) - math.Abs(ask)
	}
	return delta
}

func flowDirection(buy, sell float64) domain.FlowDirection {
	switch {
	case buy == 0 && sell == 0:
		return domain.FlowNeutral
	case sell == 0:
		return domain.FlowStrongBuy
	case buy == 0:
		return domain.FlowStrongSell
	}
	ratio := buy / sell
	switch {
	case ratio > 2.0:
		return domain.FlowStrongBuy
	case ratio >= 1.2:
		return domain.FlowModerateBuy
	case ratio >= 0.8:
		return domain.FlowNeutral
	case ratio >= 0.5:
		return domain.FlowModerateSell
	default:
		return domain.FlowStrongSell
	}
}

// AbsorptionEvents finds levels that were repeatedly consumed and refilled
// while holding far more size than the typical level on their side.
func (e *Engine) AbsorptionEvents(ctx context.Context, symbol string, window time.Duration) ([]domain.AbsorptionEvent, error) {
	if err := e.checkWindow(window, MinFlowWindow, MaxVacuumWindow); err != nil {
		return nil, err
	}
	end := e.now().UTC()
	snaps, err := e.loadSnapshots(ctx, symbol, end.Add(-window), end)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 3 {
		return nil, insufficient("absorption", 3, len(snaps))
	}
	return detectAbsorption(symbol, snaps), nil
}

func detectAbsorption(symbol string, snaps []domain.OrderBookSnapshot) []domain.AbsorptionEvent {
	events := make([]domain.AbsorptionEvent, 0)
	for _, side := range []domain.Side{domain.SideBid, domain.SideAsk} {
		med := median(sideQuantities(snaps, side))
		for _, t := range trackLevels(snaps, side) {
			if t.refills < absorptionMinRefills || t.avgQty() <= med*absorptionVolumeFactor {
				continue
			}
			ev := domain.AbsorptionEvent{
				ID:             uuid.NewString(),
				Symbol:         symbol,
				PriceLevel:     t.price,
				AbsorbedVolume: t.consumed,
				RefillCount:    t.refills,
				FirstDetected:  t.first,
				LastUpdated:    t.last,
				Entity:         domain.EntityWhale,
				Direction:      domain.Accumulation,
			}
			if t.refills > marketMakerRefills {
				ev.Entity = domain.EntityMarketMaker
			}
			if side == domain.SideAsk {
				ev.Direction = domain.Distribution
			}
			events = append(events, ev)
		}
	}
	return events
}
