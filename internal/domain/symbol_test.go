package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "btcusdt", want: "BTCUSDT"},
		{in: "  EthUsdt ", want: "ETHUSDT"},
		{in: "1000PEPEUSDT", want: "1000PEPEUSDT"},
		{in: "BTC", wantErr: true},
		{in: "BTC-USDT", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeSymbol(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.True(t, errors.Is(err, ErrInvalidSymbol))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestInsufficientDataErrorMatchesSentinel(t *testing.T) {
	var err error = &InsufficientDataError{Analytic: "volume_profile", Need: 1000, Got: 3}
	assert.True(t, errors.Is(err, ErrInsufficientData))
	assert.Contains(t, err.Error(), "need 1000, got 3")

	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 3, ide.Got)
}

func TestSnapshotHelpers(t *testing.T) {
	snap := OrderBookSnapshot{
		Bids: []PriceLevel{{Price: 100, Quantity: 2}, {Price: 99, Quantity: 1}},
		Asks: []PriceLevel{{Price: 102, Quantity: 3}},
	}
	mid, ok := snap.Mid()
	require.True(t, ok)
	assert.Equal(t, 101.0, mid)

	spread, ok := snap.Spread()
	require.True(t, ok)
	assert.Equal(t, 2.0, spread)
	assert.Equal(t, 6.0, snap.TotalQuantity())

	_, ok = OrderBookSnapshot{}.Mid()
	assert.False(t, ok)
	assert.True(t, OrderBookSnapshot{}.Empty())
}
