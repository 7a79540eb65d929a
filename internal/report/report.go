// Package report assembles one markdown market report per symbol out of the
// live book metrics and the historical analytics. Sections that cannot be
// built are rendered as unavailable instead of failing the whole report.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Section names accepted by Options.Sections.
const (
	SectionOrderBook  = "orderbook_metrics"
	SectionLiquidity  = "liquidity_analysis"
	SectionOrderFlow  = "order_flow"
	SectionAnomalies  = "market_anomalies"
	SectionHealth     = "microstructure_health"
	SectionDataHealth = "data_health"
)

const defaultVolumeWindow = 24 * time.Hour

var allSections = []string{
	SectionOrderBook,
	SectionLiquidity,
	SectionOrderFlow,
	SectionAnomalies,
	SectionHealth,
	SectionDataHealth,
}

// Source is the query surface a report reads from.
type Source interface {
	OrderBookL1(ctx context.Context, symbol string) (domain.L1Metrics, error)
	OrderBookHealth(ctx context.Context) domain.BookHealth
	VolumeProfile(ctx context.Context, symbol string, window time.Duration) (domain.VolumeProfile, error)
	OrderFlow(ctx context.Context, symbol string, window time.Duration) (domain.OrderFlow, error)
	LiquidityVacuums(ctx context.Context, symbol string, window time.Duration) ([]domain.LiquidityVacuum, error)
	DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error)
	MicrostructureHealth(ctx context.Context, symbol string) (domain.MicrostructureHealth, error)
}

// Options selects what goes into a report.
type Options struct {
	// Sections lists the sections to include; empty means all of them.
	Sections []string
	// VolumeWindow is the volume profile window, 1h to 168h. Zero means 24h.
	VolumeWindow time.Duration
}

func (o Options) normalize() (Options, error) {
	if o.VolumeWindow == 0 {
		o.VolumeWindow = defaultVolumeWindow
	}
	if o.VolumeWindow < time.Hour || o.VolumeWindow > 168*time.Hour {
		return o, fmt.Errorf("%w: volume window %s outside [1h, 168h]", domain.ErrInvalidWindow, o.VolumeWindow)
	}
	sections := make([]string, 0, len(o.Sections))
	for _, s := range o.Sections {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !slices.Contains(allSections, s) {
			return o, fmt.Errorf("%w: %q", domain.ErrInvalidSection, s)
		}
		sections = append(sections, s)
	}
	slices.Sort(sections)
	o.Sections = slices.Compact(sections)
	return o, nil
}

func (o Options) includes(section string) bool {
	return len(o.Sections) == 0 || slices.Contains(o.Sections, section)
}

// cacheKey separates reports for the same symbol built with different
// options.
func (o Options) cacheKey(symbol string) string {
	sections := "all"
	if len(o.Sections) > 0 {
		sections = strings.Join(o.Sections, ",")
	}
	return fmt.Sprintf("%s:sections=%s;volume=%s", symbol, sections, o.VolumeWindow)
}

// Report is one generated market report.
type Report struct {
	Symbol         string    `json:"symbol"`
	GeneratedAt    time.Time `json:"generated_at"`
	DataAgeMs      int64     `json:"data_age_ms"`
	GenerationMs   int64     `json:"generation_time_ms"`
	FailedSections []string  `json:"failed_sections"`
	Cached         bool      `json:"cached"`
	Markdown       string    `json:"markdown"`
}

type cachedReport struct {
	report  Report
	expires time.Time
}

// Generator builds reports and keeps each one for a short TTL. Concurrent
// requests for the same report share a single build.
type Generator struct {
	src     Source
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedReport
	group singleflight.Group
}

// NewGenerator creates a Generator. A ttl of zero disables caching.
func NewGenerator(src Source, ttl time.Duration, logger *slog.Logger) *Generator {
	return &Generator{
		src:     src,
		ttl:     ttl,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "report")),
		now:     time.Now,
		cache:   make(map[string]cachedReport),
	}
}

// Generate returns the report for symbol, from the cache when a fresh one
// exists.
func (g *Generator) Generate(ctx context.Context, symbol string, opts Options) (Report, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return Report{}, err
	}
	opts, err = opts.normalize()
	if err != nil {
		return Report{}, err
	}
	key := opts.cacheKey(sym)
	if r, ok := g.cached(key); ok {
		r.Cached = true
		return r, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		// Detached from ctx: other callers may be waiting on this build.
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()
		r := g.build(buildCtx, sym, opts)
		g.store(key, r)
		return r, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (g *Generator) cached(key string) (Report, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cache[key]
	if !ok {
		return Report{}, false
	}
	if !g.now().Before(c.expires) {
		delete(g.cache, key)
		return Report{}, false
	}
	return c.report, true
}

func (g *Generator) store(key string, r Report) {
	if g.ttl <= 0 {
		return
	}
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, c := range g.cache {
		if !now.Before(c.expires) {
			delete(g.cache, k)
		}
	}
	g.cache[key] = cachedReport{report: r, expires: now.Add(g.ttl)}
}
