package report

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

type fakeSource struct {
	l1Err    error
	microErr error
	gate     chan struct{}

	l1Calls      atomic.Int32
	profileCalls atomic.Int32
}

func (f *fakeSource) OrderBookL1(context.Context, string) (domain.L1Metrics, error) {
	f.l1Calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.l1Err != nil {
		return domain.L1Metrics{}, f.l1Err
	}
	return domain.L1Metrics{
		Symbol:     "BTCUSDT",
		BestBid:    100,
		BestAsk:    100.05,
		MidPrice:   100.025,
		SpreadBps:  5,
		Microprice: 100.03,
		Imbalance:  0.4,
		BidVolume:  12,
		AskVolume:  5,
		Walls:      []domain.Wall{{Side: domain.SideBid, Price: 99.5, Quantity: 40, Multiple: 6}},
		Slippage:   []domain.SlippageEstimate{{Side: domain.OrderSideBuy, TargetNotional: 10_000, SlippageBps: 1.5}},
		AgeMs:      120,
	}, nil
}

func (f *fakeSource) OrderBookHealth(context.Context) domain.BookHealth {
	return domain.BookHealth{
		Status:             domain.FeedOk,
		ActiveSymbols:      1,
		MaxUpdateAgeMs:     7000,
		WebsocketConnected: true,
		Symbols:            []domain.SymbolHealth{{Symbol: "BTCUSDT", State: domain.StateLive}},
	}
}

func (f *fakeSource) VolumeProfile(context.Context, string, time.Duration) (domain.VolumeProfile, error) {
	f.profileCalls.Add(1)
	return domain.VolumeProfile{}, &domain.InsufficientDataError{Analytic: "volume_profile", Need: 1000, Got: 12}
}

func (f *fakeSource) OrderFlow(context.Context, string, time.Duration) (domain.OrderFlow, error) {
	return domain.OrderFlow{Direction: domain.FlowModerateBuy, BuyVolume: 3, SellVolume: 2}, nil
}

func (f *fakeSource) LiquidityVacuums(context.Context, string, time.Duration) ([]domain.LiquidityVacuum, error) {
	return []domain.LiquidityVacuum{{
		Side: domain.SideAsk, PriceLow: 101, PriceHigh: 102, DeficitPct: 85, Impact: domain.ImpactFastMovement,
	}}, nil
}

func (f *fakeSource) DetectAnomalies(context.Context, string) ([]domain.Anomaly, error) {
	return []domain.Anomaly{{
		Type:           domain.AnomalyIcebergOrder,
		Severity:       domain.SeverityMedium,
		Confidence:     0.84,
		Recommendation: "watch the 100 bid",
	}}, nil
}

func (f *fakeSource) MicrostructureHealth(context.Context, string) (domain.MicrostructureHealth, error) {
	if f.microErr != nil {
		return domain.MicrostructureHealth{}, f.microErr
	}
	return domain.MicrostructureHealth{OverallScore: 82, Level: "Excellent", Status: domain.HealthHealthy}, nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGenerator(src Source, ttl time.Duration) (*Generator, *testClock) {
	clock := &testClock{t: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
	g := NewGenerator(src, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.now = clock.Now
	return g, clock
}

func TestGenerateComposesSections(t *testing.T) {
	g, _ := newTestGenerator(&fakeSource{}, 0)

	r, err := g.Generate(context.Background(), "btcusdt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", r.Symbol)
	assert.Equal(t, int64(120), r.DataAgeMs)
	assert.Empty(t, r.FailedSections)
	assert.False(t, r.Cached)

	md := r.Markdown
	for _, want := range []string{
		"# Market Report: BTCUSDT",
		"| Data Age | 120 ms (Fresh) |",
		"## Order Book Metrics",
		"| Spread | 5.00 bps (Tight) |",
		"| Imbalance | 0.400 (Buy Pressure) |",
		"| Slippage buy 10000 | 1.50 bps |",
		"**Buy Walls (Support):**",
		"Not enough history yet: need 1000 data points, have 12.",
		"| ask | 101 - 102 | 85.0% | FastMovement |",
		"## Order Flow",
		"| Direction | MODERATE_BUY |",
		"| IcebergOrder | Medium | 84% | watch the 100 bid |",
		"**Overall:** 82.0 (Excellent, Healthy)",
		"| WebSocket | Connected |",
		"| Subscription | live |",
	} {
		assert.Contains(t, md, want)
	}
}

func TestGenerateMarksFailedSections(t *testing.T) {
	src := &fakeSource{
		l1Err:    domain.ErrCapacityExceeded,
		microErr: &domain.InsufficientDataError{Analytic: "microstructure_health", Need: 2, Got: 0},
	}
	g, _ := newTestGenerator(src, 0)

	r, err := g.Generate(context.Background(), "BTCUSDT", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{SectionOrderBook, SectionLiquidity, SectionHealth}, r.FailedSections)
	assert.Equal(t, int64(7000), r.DataAgeMs, "falls back to the feed-wide age")
	assert.Contains(t, r.Markdown, "**[Data Unavailable]**")
	assert.Contains(t, r.Markdown, "Subscription capacity reached")
	assert.Contains(t, r.Markdown, "## Order Flow")
	assert.Contains(t, r.Markdown, "7000 ms (Stale)")
}

func TestGenerateHonoursSectionFilter(t *testing.T) {
	src := &fakeSource{}
	g, _ := newTestGenerator(src, 0)

	r, err := g.Generate(context.Background(), "BTCUSDT", Options{Sections: []string{" Data_Health "}})
	require.NoError(t, err)
	assert.Contains(t, r.Markdown, "## Data Health Status")
	assert.NotContains(t, r.Markdown, "## Order Book Metrics")
	assert.NotContains(t, r.Markdown, "## Liquidity Analysis")
	assert.Zero(t, src.profileCalls.Load())
}

func TestGenerateValidatesInput(t *testing.T) {
	g, _ := newTestGenerator(&fakeSource{}, 0)
	ctx := context.Background()

	_, err := g.Generate(ctx, "b!", Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidSymbol)
	_, err = g.Generate(ctx, "BTCUSDT", Options{VolumeWindow: 30 * time.Minute})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = g.Generate(ctx, "BTCUSDT", Options{VolumeWindow: 200 * time.Hour})
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
	_, err = g.Generate(ctx, "BTCUSDT", Options{Sections: []string{"price_overview"}})
	assert.ErrorIs(t, err, domain.ErrInvalidSection)
}

func TestGenerateCachesPerOptionsWithinTTL(t *testing.T) {
	src := &fakeSource{}
	g, clock := newTestGenerator(src, 5*time.Second)
	ctx := context.Background()

	first, err := g.Generate(ctx, "BTCUSDT", Options{})
	require.NoError(t, err)
	clock.Advance(4 * time.Second)

	second, err := g.Generate(ctx, "btcusdt", Options{VolumeWindow: 24 * time.Hour})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Markdown, second.Markdown)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	assert.Equal(t, int32(1), src.l1Calls.Load())

	_, err = g.Generate(ctx, "BTCUSDT", Options{Sections: []string{SectionOrderFlow}})
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.l1Calls.Load(), "different options build a new report")

	clock.Advance(2 * time.Second)
	third, err := g.Generate(ctx, "BTCUSDT", Options{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(3), src.l1Calls.Load())
}

func TestGenerateSharesConcurrentBuilds(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	g, _ := newTestGenerator(src, time.Minute)

	var wg sync.WaitGroup
	reports := make([]Report, 8)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := g.Generate(context.Background(), "BTCUSDT", Options{})
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	require.Eventually(t, func() bool { return src.l1Calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.l1Calls.Load())
	for _, r := range reports {
		assert.Equal(t, reports[0].Markdown, r.Markdown)
	}
}

func TestMarkdownHelpers(t *testing.T) {
	var b strings.Builder
	heading(&b, 2, "Title")
	table(&b, []string{"Name", "Value"}, [][]string{{"Price", "42"}})
	list(&b, []string{"first"})
	assert.Equal(t, "## Title\n\n| Name | Value |\n|--------|--------|\n| Price | 42 |\n\n- first\n\n", b.String())
}
