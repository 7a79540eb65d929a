package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

func book(bids, asks [][2]float64) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{Symbol: "BTCUSDT", LastUpdateID: 7}
	for _, b := range bids {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: b[0], Quantity: b[1]})
	}
	for _, a := range asks {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: a[0], Quantity: a[1]})
	}
	return snap
}

func TestSpreadBps(t *testing.T) {
	snap := book([][2]float64{{99.5, 1}}, [][2]float64{{100.5, 1}})
	bps, ok := SpreadBps(snap)
	require.True(t, ok)
	assert.InDelta(t, 100.0, bps, 1e-9)

	_, ok = SpreadBps(book(nil, [][2]float64{{100, 1}}))
	assert.False(t, ok)
}

func TestMicropriceWithinBBO(t *testing.T) {
	tests := []struct {
		name   string
		bidQty float64
		askQty float64
		want   float64
	}{
		{"balanced", 1, 1, 100.5},
		{"bid heavy leans to ask", 9, 1, 100.9},
		{"ask heavy leans to bid", 1, 9, 100.1},
		{"zero sizes fall back to mid", 0, 0, 100.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := book([][2]float64{{100, tt.bidQty}}, [][2]float64{{101, tt.askQty}})
			mp, ok := Microprice(snap)
			require.True(t, ok)
			assert.InDelta(t, tt.want, mp, 1e-9)
			assert.GreaterOrEqual(t, mp, 100.0)
			assert.LessOrEqual(t, mp, 101.0)
		})
	}
}

func TestImbalance(t *testing.T) {
	assert.Equal(t, 0.0, Imbalance(domain.OrderBookSnapshot{}, 20))

	snap := book([][2]float64{{100, 3}, {99, 1}}, [][2]float64{{101, 1}})
	assert.InDelta(t, 0.6, Imbalance(snap, 20), 1e-9)
	assert.InDelta(t, 0.5, Imbalance(snap, 1), 1e-9)

	only := book([][2]float64{{100, 3}}, nil)
	assert.Equal(t, 1.0, Imbalance(only, 20))
}

func TestWalls(t *testing.T) {
	bids := [][2]float64{}
	for i := 0; i < 9; i++ {
		bids = append(bids, [2]float64{float64(100 - i), 1})
	}
	bids = append(bids, [2]float64{90, 50})
	snap := book(bids, [][2]float64{{101, 1}, {102, 1}})

	walls := Walls(snap, 5, 20)
	require.Len(t, walls, 1)
	assert.Equal(t, domain.SideBid, walls[0].Side)
	assert.Equal(t, 90.0, walls[0].Price)
	assert.InDelta(t, 50/5.9, walls[0].Multiple, 1e-9)
}

func TestSlippage(t *testing.T) {
	snap := book([][2]float64{{99, 10}}, [][2]float64{{101, 10}, {102, 10}})

	buy := Slippage(snap, domain.OrderSideBuy, 1515)
	assert.True(t, buy.Complete)
	assert.Equal(t, 2, buy.LevelsConsumed)
	assert.InDelta(t, 1515, buy.FilledNotional, 1e-9)
	assert.InDelta(t, 10+505.0/102, buy.FilledQuantity, 1e-9)
	assert.Greater(t, buy.AvgPrice, 101.0)
	assert.Greater(t, buy.SlippageBps, 0.0)

	sell := Slippage(snap, domain.OrderSideSell, 5000)
	assert.False(t, sell.Complete)
	assert.InDelta(t, 990, sell.FilledNotional, 1e-9)
	assert.InDelta(t, 99, sell.AvgPrice, 1e-9)
	assert.InDelta(t, 100, sell.SlippageBps, 1e-9)
}

func TestL1(t *testing.T) {
	snap := book([][2]float64{{100, 2}, {99, 1}}, [][2]float64{{101, 1}, {102, 4}})
	m := L1(snap, DefaultConfig())

	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, 100.0, m.BestBid)
	assert.Equal(t, 101.0, m.BestAsk)
	assert.Equal(t, 100.5, m.MidPrice)
	assert.InDelta(t, 1/100.5*10000, m.SpreadBps, 1e-9)
	assert.Len(t, m.Slippage, 6)
	assert.Equal(t, uint64(7), m.LastUpdate)
}

func TestL2ReturnsAvailableLevels(t *testing.T) {
	var bids, asks [][2]float64
	for i := 0; i < 20; i++ {
		bids = append(bids, [2]float64{float64(1000 - i), 0.5})
		asks = append(asks, [2]float64{float64(1001 + i), 0.25})
	}
	snap := book(bids, asks)

	d, err := L2(snap, 50)
	require.NoError(t, err)
	assert.Len(t, d.BidPrices, 20)
	assert.Len(t, d.AskPrices, 20)
	assert.Equal(t, [2]int64{100000, 50000}, d.BidsScaled[0])
	assert.Equal(t, [2]int64{100100, 25000}, d.AsksScaled[0])

	d, err = L2(snap, 5)
	require.NoError(t, err)
	assert.Len(t, d.BidQtys, 5)
	assert.Equal(t, 996.0, d.BidPrices[4])
}

func TestL2RejectsLevelsOutOfRange(t *testing.T) {
	for _, n := range []int{0, -1, 101} {
		_, err := L2(domain.OrderBookSnapshot{}, n)
		assert.True(t, errors.Is(err, domain.ErrInvalidLevels), "levels=%d", n)
	}
}
