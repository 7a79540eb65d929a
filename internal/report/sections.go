package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// recentWindow is the window used for vacuums and order flow.
const recentWindow = time.Minute

// inputs holds every source read for one report. Each field pair is written
// by exactly one fetch goroutine.
type inputs struct {
	l1     domain.L1Metrics
	l1Err  error
	health domain.BookHealth

	profile    domain.VolumeProfile
	profileErr error
	vacuums    []domain.LiquidityVacuum
	vacuumsErr error

	flow    domain.OrderFlow
	flowErr error

	anomalies    []domain.Anomaly
	anomaliesErr error

	micro    domain.MicrostructureHealth
	microErr error
}

type section struct {
	name  string
	title string
	body  string
	err   error
}

func (g *Generator) fetch(ctx context.Context, sym string, opts Options) *inputs {
	in := &inputs{}
	var eg errgroup.Group
	eg.Go(func() error {
		in.l1, in.l1Err = g.src.OrderBookL1(ctx, sym)
		return nil
	})
	eg.Go(func() error {
		in.health = g.src.OrderBookHealth(ctx)
		return nil
	})
	if opts.includes(SectionLiquidity) {
		eg.Go(func() error {
			in.profile, in.profileErr = g.src.VolumeProfile(ctx, sym, opts.VolumeWindow)
			return nil
		})
		eg.Go(func() error {
			in.vacuums, in.vacuumsErr = g.src.LiquidityVacuums(ctx, sym, recentWindow)
			return nil
		})
	}
	if opts.includes(SectionOrderFlow) {
		eg.Go(func() error {
			in.flow, in.flowErr = g.src.OrderFlow(ctx, sym, recentWindow)
			return nil
		})
	}
	if opts.includes(SectionAnomalies) {
		eg.Go(func() error {
			in.anomalies, in.anomaliesErr = g.src.DetectAnomalies(ctx, sym)
			return nil
		})
	}
	if opts.includes(SectionHealth) {
		eg.Go(func() error {
			in.micro, in.microErr = g.src.MicrostructureHealth(ctx, sym)
			return nil
		})
	}
	_ = eg.Wait()
	return in
}

func (g *Generator) build(ctx context.Context, sym string, opts Options) Report {
	start := g.now()
	in := g.fetch(ctx, sym, opts)

	age := in.health.MaxUpdateAgeMs
	if in.l1Err == nil {
		age = in.l1.AgeMs
	}
	r := Report{
		Symbol:         sym,
		GeneratedAt:    start.UTC(),
		DataAgeMs:      age,
		FailedSections: []string{},
	}

	var b strings.Builder
	heading(&b, 1, "Market Report: "+sym)
	table(&b, []string{"Metric", "Value"}, [][]string{
		{"Symbol", sym},
		{"Generated At", start.UTC().Format(time.RFC3339)},
		{"Data Age", fmt.Sprintf("%d ms (%s)", age, freshness(age))},
	})

	sections := []section{
		orderBookSection(in),
		liquiditySection(in, opts.VolumeWindow),
		orderFlowSection(in),
		anomaliesSection(in),
		healthSection(in),
		dataHealthSection(sym, in, age),
	}
	for _, s := range sections {
		if !opts.includes(s.name) {
			continue
		}
		if s.err != nil {
			r.FailedSections = append(r.FailedSections, s.name)
			g.logger.DebugContext(ctx, "report section unavailable",
				slog.String("symbol", sym),
				slog.String("section", s.name),
				slog.String("error", s.err.Error()),
			)
			heading(&b, 2, s.title)
			b.WriteString("**[Data Unavailable]**\n\n" + unavailableMessage(s.err) + "\n\n")
			continue
		}
		b.WriteString(s.body)
	}

	r.GenerationMs = g.now().Sub(start).Milliseconds()
	fmt.Fprintf(&b, "---\n\n*Generated in %d ms.*\n", r.GenerationMs)
	r.Markdown = b.String()
	return r
}

func unavailableMessage(err error) string {
	var ide *domain.InsufficientDataError
	switch {
	case errors.As(err, &ide):
		return fmt.Sprintf("Not enough history yet: need %d data points, have %d.", ide.Need, ide.Got)
	case errors.Is(err, domain.ErrInsufficientData):
		return "Not enough history yet."
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "Subscription capacity reached; the live book for this symbol is not available."
	case errors.Is(err, context.DeadlineExceeded):
		return "Data fetch timed out. Please try again."
	default:
		return "The data source for this section is unavailable."
	}
}

func freshness(ageMs int64) string {
	switch {
	case ageMs < 1000:
		return "Fresh"
	case ageMs < 5000:
		return "Recent"
	default:
		return "Stale"
	}
}

func orderBookSection(in *inputs) section {
	s := section{name: SectionOrderBook, title: "Order Book Metrics", err: in.l1Err}
	if s.err != nil {
		return s
	}
	m := in.l1

	spread := "Wide"
	switch {
	case m.SpreadBps < 10:
		spread = "Tight"
	case m.SpreadBps < 50:
		spread = "Moderate"
	}
	pressure := "Balanced"
	switch {
	case m.Imbalance > 0.1:
		pressure = "Buy Pressure"
	case m.Imbalance < -0.1:
		pressure = "Sell Pressure"
	}

	rows := [][]string{
		{"Best Bid", price(m.BestBid)},
		{"Best Ask", price(m.BestAsk)},
		{"Mid Price", price(m.MidPrice)},
		{"Spread", fmt.Sprintf("%.2f bps (%s)", m.SpreadBps, spread)},
		{"Microprice", price(m.Microprice)},
		{"Bid Volume", fmt.Sprintf("%.4f", m.BidVolume)},
		{"Ask Volume", fmt.Sprintf("%.4f", m.AskVolume)},
		{"Imbalance", fmt.Sprintf("%.3f (%s)", m.Imbalance, pressure)},
	}
	for _, est := range m.Slippage {
		rows = append(rows, []string{
			fmt.Sprintf("Slippage %s %.0f", est.Side, est.TargetNotional),
			fmt.Sprintf("%.2f bps", est.SlippageBps),
		})
	}

	var b strings.Builder
	heading(&b, 2, s.title)
	table(&b, []string{"Metric", "Value"}, rows)
	s.body = b.String()
	return s
}

func liquiditySection(in *inputs, window time.Duration) section {
	s := section{name: SectionLiquidity, title: "Liquidity Analysis", err: in.l1Err}
	if s.err != nil {
		return s
	}
	var b strings.Builder
	heading(&b, 2, s.title)

	heading(&b, 3, "Liquidity Walls")
	var support, resistance []string
	for _, w := range in.l1.Walls {
		item := fmt.Sprintf("%s @ %.4f (%.1fx side average)", price(w.Price), w.Quantity, w.Multiple)
		if w.Side == domain.SideBid {
			support = append(support, item)
		} else {
			resistance = append(resistance, item)
		}
	}
	if len(support) == 0 && len(resistance) == 0 {
		b.WriteString("No significant liquidity walls detected.\n\n")
	}
	if len(support) > 0 {
		b.WriteString("**Buy Walls (Support):**\n")
		list(&b, support[:min(5, len(support))])
	}
	if len(resistance) > 0 {
		b.WriteString("**Sell Walls (Resistance):**\n")
		list(&b, resistance[:min(5, len(resistance))])
	}

	heading(&b, 3, fmt.Sprintf("Volume Profile (%s)", window))
	if in.profileErr != nil {
		b.WriteString("*" + unavailableMessage(in.profileErr) + "*\n\n")
	} else {
		p := in.profile
		table(&b, []string{"Metric", "Value"}, [][]string{
			{"Point of Control", price(p.PointOfControl)},
			{"Value Area High", price(p.ValueAreaHigh)},
			{"Value Area Low", price(p.ValueAreaLow)},
			{"Total Volume", fmt.Sprintf("%.4f", p.TotalVolume)},
			{"Trades", fmt.Sprintf("%d", p.TradeCount)},
		})
	}

	heading(&b, 3, "Liquidity Vacuums")
	switch {
	case in.vacuumsErr != nil:
		b.WriteString("*" + unavailableMessage(in.vacuumsErr) + "*\n\n")
	case len(in.vacuums) == 0:
		b.WriteString("No liquidity vacuums in the current book.\n\n")
	default:
		rows := make([][]string, 0, len(in.vacuums))
		for _, v := range in.vacuums {
			rows = append(rows, []string{
				string(v.Side),
				price(v.PriceLow) + " - " + price(v.PriceHigh),
				fmt.Sprintf("%.1f%%", v.DeficitPct),
				string(v.Impact),
			})
		}
		table(&b, []string{"Side", "Range", "Deficit", "Impact"}, rows)
	}

	s.body = b.String()
	return s
}

func orderFlowSection(in *inputs) section {
	s := section{name: SectionOrderFlow, title: "Order Flow", err: in.flowErr}
	if s.err != nil {
		return s
	}
	f := in.flow
	var b strings.Builder
	heading(&b, 2, s.title)
	table(&b, []string{"Metric", "Value"}, [][]string{
		{"Direction", string(f.Direction)},
		{"Buy Volume", fmt.Sprintf("%.4f (%d trades)", f.BuyVolume, f.BuyCount)},
		{"Sell Volume", fmt.Sprintf("%.4f (%d trades)", f.SellVolume, f.SellCount)},
		{"Net Flow", fmt.Sprintf("%.4f", f.NetFlow)},
		{"Bid Flow Rate", fmt.Sprintf("%.4f/s", f.BidFlowRate)},
		{"Ask Flow Rate", fmt.Sprintf("%.4f/s", f.AskFlowRate)},
		{"Cumulative Delta", fmt.Sprintf("%.4f", f.CumulativeDelta)},
	})
	s.body = b.String()
	return s
}

func anomaliesSection(in *inputs) section {
	s := section{name: SectionAnomalies, title: "Market Anomalies", err: in.anomaliesErr}
	if s.err != nil {
		return s
	}
	var b strings.Builder
	heading(&b, 2, s.title)
	if len(in.anomalies) == 0 {
		b.WriteString("**Status:** No anomalies detected.\n\n")
		s.body = b.String()
		return s
	}
	rows := make([][]string, 0, len(in.anomalies))
	for _, a := range in.anomalies {
		rows = append(rows, []string{
			string(a.Type),
			string(a.Severity),
			fmt.Sprintf("%.0f%%", a.Confidence*100),
			a.Recommendation,
		})
	}
	table(&b, []string{"Type", "Severity", "Confidence", "Recommendation"}, rows)
	s.body = b.String()
	return s
}

func healthSection(in *inputs) section {
	s := section{name: SectionHealth, title: "Microstructure Health", err: in.microErr}
	if s.err != nil {
		return s
	}
	h := in.micro
	var b strings.Builder
	heading(&b, 2, s.title)
	fmt.Fprintf(&b, "**Overall:** %.1f (%s, %s)\n\n", h.OverallScore, h.Level, h.Status)
	table(&b, []string{"Component", "Score"}, [][]string{
		{"Spread Stability", fmt.Sprintf("%.1f", h.SpreadStability)},
		{"Liquidity Depth", fmt.Sprintf("%.1f", h.LiquidityDepth)},
		{"Flow Balance", fmt.Sprintf("%.1f", h.FlowBalance)},
		{"Update Rate", fmt.Sprintf("%.1f", h.UpdateRate)},
	})
	if len(h.Warnings) > 0 {
		b.WriteString("**Warnings:**\n")
		list(&b, h.Warnings)
	}
	if h.Recommendation != "" {
		b.WriteString(h.Recommendation + "\n\n")
	}
	s.body = b.String()
	return s
}

func dataHealthSection(sym string, in *inputs, ageMs int64) section {
	s := section{name: SectionDataHealth, title: "Data Health Status"}
	h := in.health

	state := "not tracked"
	for _, sh := range h.Symbols {
		if sh.Symbol == sym {
			state = string(sh.State)
			break
		}
	}
	connected := "Disconnected"
	if h.WebsocketConnected {
		connected = "Connected"
	}

	var b strings.Builder
	heading(&b, 2, s.title)
	fmt.Fprintf(&b, "**Overall Status:** %s\n\n", h.Status)
	table(&b, []string{"Component", "Status"}, [][]string{
		{"WebSocket", connected},
		{"Subscription", state},
		{"Data Freshness", fmt.Sprintf("%s (%d ms)", freshness(ageMs), ageMs)},
		{"Active Symbols", fmt.Sprintf("%d", h.ActiveSymbols)},
	})
	if h.Reason != "" {
		b.WriteString("*" + h.Reason + "*\n\n")
	}
	s.body = b.String()
	return s
}
