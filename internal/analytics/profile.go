package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const profileBins = 100

// VolumeProfile buckets traded volume by price over the trailing window and
// locates the point of control and value area.
func (e *Engine) VolumeProfile(ctx context.Context, symbol string, window time.Duration) (domain.VolumeProfile, error) {
	if err := e.checkWindow(window, MinProfileWindow, MaxProfileWindow); err != nil {
		return domain.VolumeProfile{}, err
	}
	end := e.now().UTC()
	start := end.Add(-window)

	trades, batches, err := e.loadTrades(ctx, symbol, start, end)
	if err != nil {
		return domain.VolumeProfile{}, err
	}
	if batches == 0 || len(trades) < e.cfg.MinProfileTrades {
		return domain.VolumeProfile{}, insufficient("volume_profile", e.cfg.MinProfileTrades, len(trades))
	}

	p := buildProfile(trades, e.cfg.TickSize, e.cfg.ValueAreaPct)
	p.Symbol = symbol
	p.WindowStart = start
	p.WindowEnd = end
	return p, nil
}

func buildProfile(trades []domain.AggTrade, tick, valueAreaPct float64) domain.VolumeProfile {
	low, high := math.Inf(1), math.Inf(-1)
	for _, t := range trades {
		low = math.Min(low, t.Price)
		high = math.Max(high, t.Price)
	}
	binSize := math.Max((high-low)/profileBins, tick*10)

	type bucket struct {
		volume float64
		count  int
	}
	buckets := make(map[int]*bucket)
	var total float64
	for _, t := range trades {
		idx := int(math.Floor((t.Price - low) / binSize))
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{}
			buckets[idx] = b
		}
		b.volume += t.Quantity
		b.count++
		total += t.Quantity
	}

	indexes := make([]int, 0, len(buckets))
	for idx := range buckets {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	hist := make([]domain.VolumeBin, len(indexes))
	poc := 0
	for i, idx := range indexes {
		b := buckets[idx]
		hist[i] = domain.VolumeBin{
			PriceLevel: low + float64(idx)*binSize + binSize/2,
			Volume:     b.volume,
			TradeCount: b.count,
		}
		if b.volume > hist[poc].Volume {
			poc = i
		}
	}

	val, vah := valueArea(hist, poc, total*valueAreaPct)
	return domain.VolumeProfile{
		PriceLow:       low,
		PriceHigh:      high,
		BinSize:        binSize,
		Histogram:      hist,
		TotalVolume:    total,
		TradeCount:     len(trades),
		PointOfControl: hist[poc].PriceLevel,
		ValueAreaLow:   val,
		ValueAreaHigh:  vah,
		ValueAreaPct:   valueAreaPct,
	}
}

// valueArea grows outwards from the point of control, always taking the
// heavier neighbour, until target volume is covered.
func valueArea(hist []domain.VolumeBin, poc int, target float64) (low, high float64) {
	lo, hi := poc, poc
	covered := hist[poc].Volume
	for covered < target {
		var below, above float64
		if lo > 0 {
			below = hist[lo-1].Volume
		}
		if hi < len(hist)-1 {
			above = hist[hi+1].Volume
		}
		switch {
		case lo > 0 && (below > above || hi == len(hist)-1):
			lo--
			covered += below
		case hi < len(hist)-1:
			hi++
			covered += above
		default:
			return hist[lo].PriceLevel, hist[hi].PriceLevel
		}
	}
	return hist[lo].PriceLevel, hist[hi].PriceLevel
}
