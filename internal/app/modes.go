package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthwatch/internal/analytics"
	"github.com/alanyoungcy/depthwatch/internal/feed"
	"github.com/alanyoungcy/depthwatch/internal/metrics"
	"github.com/alanyoungcy/depthwatch/internal/pipeline"
	"github.com/alanyoungcy/depthwatch/internal/platform/binance"
	"github.com/alanyoungcy/depthwatch/internal/report"
	"github.com/alanyoungcy/depthwatch/internal/server"
	"github.com/alanyoungcy/depthwatch/internal/server/handler"
	"github.com/alanyoungcy/depthwatch/internal/server/ws"
	"github.com/alanyoungcy/depthwatch/internal/service"
	"github.com/alanyoungcy/depthwatch/internal/subscription"
)

// seedConcurrency bounds how many configured symbols are seeded at once so
// startup stays inside the REST weight budget.
const seedConcurrency = 4

// components is the set of components every mode shares.
type components struct {
	manager   *subscription.Manager
	trades    *pipeline.TradeTask
	analytics *analytics.Engine
	sweepCh   chan struct{}
}

// TrackMode runs everything: the HTTP surface with lazy subscriptions,
// persistence, retention, idle reaping and anomaly alerts.
func (a *App) TrackMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting track mode")

	comp := a.newComponents(deps)
	defer a.closeManager(comp.manager)

	g, ctx := errgroup.WithContext(ctx)
	a.startPersistence(ctx, g, deps, comp)
	g.Go(func() error { return comp.manager.RunReaper(ctx) })
	a.startAnomalyWatcher(ctx, g, deps, comp)
	a.startHTTPServer(ctx, g, deps, comp)

	if _, err := a.seedSymbols(ctx, comp.manager); err != nil {
		a.logger.WarnContext(ctx, "some configured symbols failed to seed",
			slog.String("error", err.Error()),
		)
	}

	return g.Wait()
}

// ServerMode serves the query surface with lazy subscriptions and keeps
// persisting what it tracks. Anomalies are only computed on request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	comp := a.newComponents(deps)
	defer a.closeManager(comp.manager)

	g, ctx := errgroup.WithContext(ctx)
	a.startPersistence(ctx, g, deps, comp)
	g.Go(func() error { return comp.manager.RunReaper(ctx) })
	a.startHTTPServer(ctx, g, deps, comp)

	if _, err := a.seedSymbols(ctx, comp.manager); err != nil {
		a.logger.WarnContext(ctx, "some configured symbols failed to seed",
			slog.String("error", err.Error()),
		)
	}

	return g.Wait()
}

// CollectMode persists a fixed symbol list without any HTTP surface and
// alerts on anomalies. The symbols are pinned so no reaper runs.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode",
		slog.Any("symbols", a.cfg.Subscription.Symbols),
	)

	comp := a.newComponents(deps)
	defer a.closeManager(comp.manager)

	seeded, err := a.seedSymbols(ctx, comp.manager)
	if seeded == 0 {
		return fmt.Errorf("collect mode: no symbol could be seeded: %w", err)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "collecting a partial symbol set",
			slog.Int("seeded", seeded),
			slog.String("error", err.Error()),
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startPersistence(ctx, g, deps, comp)
	a.startAnomalyWatcher(ctx, g, deps, comp)
	return g.Wait()
}

// newComponents builds the subscription manager, trade buffer and analytics
// engine from config.
func (a *App) newComponents(deps *Dependencies) *components {
	cfg := a.cfg

	trades := pipeline.NewTradeTask(deps.Trades, cfg.Storage.TradeFlushInterval.Duration, a.logger)

	fetcher := binance.NewDepthClient(binance.RESTConfig{
		BaseURL:           cfg.Binance.RestURL,
		RequestsPerMinute: cfg.Binance.RestRatePerMinute,
		QueueTimeout:      cfg.Binance.RestQueueTimeout.Duration,
		Timeout:           cfg.Binance.RestTimeout.Duration,
	})
	streams := subscription.NewBinanceStreams(cfg.Binance.WsURL, a.logger)

	subCfg := subscription.DefaultConfig()
	subCfg.MaxSubscriptions = cfg.Subscription.MaxSubscriptions
	subCfg.DepthLimit = cfg.Subscription.DepthLimit
	subCfg.StaleAfter = cfg.Book.StalenessThreshold.Duration
	subCfg.IdleTimeout = cfg.Subscription.IdleTimeout.Duration
	subCfg.MaxResyncAttempts = cfg.Subscription.MaxResyncAttempts
	subCfg.Backoff = feed.Backoff{
		Initial:     cfg.Binance.ReconnectInitial.Duration,
		Max:         cfg.Binance.ReconnectMax.Duration,
		MaxAttempts: cfg.Binance.MaxReconnectAttempts,
		ResetAfter:  feed.DefaultBackoff.ResetAfter,
	}
	subCfg.Pinned = cfg.Subscription.Symbols

	manager := subscription.NewManager(subCfg, fetcher, streams, trades, deps.Journal, a.logger)

	engine := analytics.NewEngine(deps.Snapshots, deps.Trades, analytics.Config{
		MinProfileTrades:   cfg.Analytics.MinProfileTrades,
		ValueAreaPct:       cfg.Analytics.ValueAreaPct,
		TickSize:           cfg.Analytics.TickSize,
		AnomalyWindow:      cfg.Analytics.AnomalyWindow.Duration,
		HealthWindow:       cfg.Analytics.HealthWindow.Duration,
		SnapshotInterval:   cfg.Storage.SnapshotInterval.Duration,
		VacuumThreshold:    cfg.Analytics.VacuumThreshold,
		QuoteStuffingRate:  cfg.Analytics.QuoteStuffingRate,
		MaxFillRate:        cfg.Analytics.MaxFillRate,
		IcebergMultiplier:  cfg.Analytics.IcebergMultiplier,
		WallMultiplier:     cfg.Metrics.WallMultiplier,
		WallDepth:          cfg.Metrics.ImbalanceDepth,
		FlashDepthLossPct:  cfg.Analytics.FlashDepthLossPct,
		FlashSpreadMult:    cfg.Analytics.FlashSpreadMult,
		FlashCancelRatePct: cfg.Analytics.FlashCancelRatePct,
		FlashCrashMoveBps:  cfg.Analytics.FlashCrashMoveBps,
		DegradedBelow:      cfg.Analytics.DegradedBelow,
		PoorBelow:          cfg.Analytics.PoorBelow,
		Retention:          cfg.Storage.Retention.Duration,
	}, a.logger)

	return &components{
		manager:   manager,
		trades:    trades,
		analytics: engine,
		sweepCh:   make(chan struct{}, 1),
	}
}

// startPersistence adds the snapshot task, the trade flusher and the
// retention sweeper to g.
func (a *App) startPersistence(ctx context.Context, g *errgroup.Group, deps *Dependencies, comp *components) {
	snapshots := pipeline.NewSnapshotTask(
		comp.manager,
		deps.Snapshots,
		deps.Mirror,
		deps.Publisher,
		a.cfg.Storage.SnapshotInterval.Duration,
		a.logger,
	)
	g.Go(func() error { return snapshots.Run(ctx) })
	// The subscription streams feed the trade buffer, so they are closed
	// before its final flush.
	tradeCtx := afterShutdown(ctx, g, func() { a.closeManager(comp.manager) })
	g.Go(func() error { return comp.trades.Run(tradeCtx) })

	sweeper := pipeline.NewSweeper(
		deps.Retention,
		deps.Archiver,
		deps.DB,
		deps.Journal,
		a.cfg.Storage.Retention.Duration,
		a.cfg.Storage.SweepInterval.Duration,
		a.logger,
	).WithTrigger(comp.sweepCh)
	g.Go(func() error { return sweeper.Run(ctx) })
}

// startAnomalyWatcher adds the periodic anomaly scan when alerts are enabled.
func (a *App) startAnomalyWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies, comp *components) {
	if !a.cfg.Alerts.Enabled {
		a.logger.InfoContext(ctx, "alerts disabled, anomaly watcher not started")
		return
	}
	watcher := pipeline.NewAnomalyWatcher(
		comp.manager,
		comp.analytics,
		deps.Notifier,
		deps.Journal,
		a.cfg.Alerts.Interval.Duration,
		a.cfg.Alerts.Cooldown.Duration,
		a.logger,
	)
	if deps.Leases != nil {
		watcher = watcher.WithLeases(deps.Leases)
	}
	g.Go(func() error { return watcher.Run(ctx) })
}

// startHTTPServer adds the HTTP server, and the WebSocket hub when a bus is
// wired, to g. POST /api/pipeline/sweep requests one sweep through
// comp.sweepCh.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, comp *components) {
	query := service.NewQuery(comp.manager, comp.analytics, service.QueryConfig{
		Metrics: metrics.Config{
			ImbalanceDepth:    a.cfg.Metrics.ImbalanceDepth,
			WallMultiplier:    a.cfg.Metrics.WallMultiplier,
			SlippageNotionals: a.cfg.Metrics.SlippageNotionals,
		},
		AnalyticsTimeout: a.cfg.Analytics.QueryTimeout.Duration,
		StaleAfter:       a.cfg.Book.StalenessThreshold.Duration,
	}, a.logger)
	if deps.Mirror != nil {
		query = query.WithMirror(deps.Mirror)
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(query, a.logger),
		OrderBook: handler.NewOrderBookHandler(query, a.logger),
		Analytics: handler.NewAnalyticsHandler(query, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, comp.manager, a.logger),
		Sweep:     handler.NewSweepHandler(comp.sweepCh, a.logger),
		Report:    handler.NewReportHandler(report.NewGenerator(query, a.cfg.Analytics.ReportCacheTTL.Duration, a.logger), a.logger),
	}
	if deps.Journal != nil {
		handlers.Events = handler.NewEventsHandler(deps.Journal, a.logger)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			Symbols:   comp.manager.Symbols,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}

// seedSymbols subscribes every configured symbol, a few at a time. It
// returns how many succeeded and the joined failures.
func (a *App) seedSymbols(ctx context.Context, manager *subscription.Manager) (int, error) {
	symbols := a.cfg.Subscription.Symbols
	if len(symbols) == 0 {
		return 0, nil
	}

	errs := make([]error, len(symbols))
	var g errgroup.Group
	g.SetLimit(seedConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			if _, err := manager.Ensure(ctx, sym); err != nil {
				errs[i] = fmt.Errorf("%s: %w", sym, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	seeded := 0
	for _, err := range errs {
		if err == nil {
			seeded++
		}
	}
	a.logger.InfoContext(ctx, "configured symbols seeded",
		slog.Int("seeded", seeded),
		slog.Int("configured", len(symbols)),
	)
	return seeded, errors.Join(errs...)
}

// afterShutdown returns a context cancelled once ctx is done and stop has
// returned.
func afterShutdown(ctx context.Context, g *errgroup.Group, stop func()) context.Context {
	next, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.Go(func() error {
		<-ctx.Done()
		stop()
		cancel()
		return nil
	})
	return next
}

func (a *App) closeManager(m *subscription.Manager) {
	if err := m.Close(); err != nil {
		a.logger.Error("close subscription manager", slog.String("error", err.Error()))
	}
}
