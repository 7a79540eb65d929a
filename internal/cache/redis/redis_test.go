package redis

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

func TestBookKeys(t *testing.T) {
	k := keysFor("BTCUSDT")
	assert.Equal(t, "book:BTCUSDT:bids", k.bids)
	assert.Equal(t, "book:BTCUSDT:ask:size", k.askSize)
	assert.Equal(t, "book:BTCUSDT:meta", k.meta)
	assert.Len(t, k.all(), 6)
}

func TestLevelsFromSkipsForeignMembers(t *testing.T) {
	zs := []redis.Z{
		{Score: 101.5, Member: "101.5"},
		{Score: 101, Member: 101},
		{Score: 100.25, Member: "100.25"},
	}
	sizes := map[string]string{"101.5": "2", "100.25": "0.125"}

	assert.Equal(t, []domain.PriceLevel{
		{Price: 101.5, Quantity: 2},
		{Price: 100.25, Quantity: 0.125},
	}, levelsFrom(zs, sizes))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:book:*"))
	assert.False(t, hasPattern("ch:anomaly"))
}

func TestFormatFloatRoundTrips(t *testing.T) {
	assert.Equal(t, "0.00012", formatFloat(0.00012))
	assert.Equal(t, "65000.1", formatFloat(65000.1))
}

func TestLeaseKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "lease:alert:BTCUSDT:FlashCrashRisk", leaseKey("alert:BTCUSDT:FlashCrashRisk"))
}

func TestLeaseRejectsNonPositiveTTL(t *testing.T) {
	_, err := (&LeaseManager{}).Acquire(context.Background(), "k", 0)
	assert.ErrorContains(t, err, "ttl must be positive")
}

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict([]int64{1, 3})
	assert.NoError(t, err)
	assert.True(t, v.admitted)
	assert.EqualValues(t, 3, v.inWindow)

	_, err = parseVerdict([]int64{0})
	assert.ErrorContains(t, err, "want 2")
}

func TestRateLimiterRejectsEmptyWindow(t *testing.T) {
	_, err := (&RateLimiter{}).Allow(context.Background(), "api:1.2.3.4", 10, 0)
	assert.ErrorContains(t, err, "must be positive")
}

func TestClientOptions(t *testing.T) {
	opts := ClientConfig{Addr: "cache:6379", DB: 2, TLSEnabled: true}.options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "depthwatch", opts.ClientName)
	assert.NotNil(t, opts.TLSConfig)
	assert.Nil(t, ClientConfig{}.options().TLSConfig)
}
