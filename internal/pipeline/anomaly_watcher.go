package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// SymbolLister lists the tracked symbols.
type SymbolLister interface {
	Symbols() []string
}

// AnomalyDetector runs anomaly detection for one symbol.
type AnomalyDetector interface {
	DetectAnomalies(ctx context.Context, symbol string) ([]domain.Anomaly, error)
}

// AnomalyAlerter delivers an alert for one anomaly.
type AnomalyAlerter interface {
	NotifyAnomaly(ctx context.Context, a domain.Anomaly) error
}

// AnomalyWatcher periodically scans every tracked symbol for anomalies and
// journals and alerts on the High and Critical ones. The same symbol and
// anomaly type alert at most once per cooldown.
type AnomalyWatcher struct {
	symbols  SymbolLister
	detector AnomalyDetector
	alerter  AnomalyAlerter
	journal  domain.Journal
	leases   domain.LeaseManager
	interval time.Duration
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewAnomalyWatcher creates an AnomalyWatcher. alerter and journal may be nil.
func NewAnomalyWatcher(symbols SymbolLister, detector AnomalyDetector, alerter AnomalyAlerter, journal domain.Journal, interval, cooldown time.Duration, logger *slog.Logger) *AnomalyWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AnomalyWatcher{
		symbols:  symbols,
		detector: detector,
		alerter:  alerter,
		journal:  journal,
		interval: interval,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "anomaly_watcher")),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// WithLeases makes instances sharing the lease manager alert once per
// cooldown between them.
func (w *AnomalyWatcher) WithLeases(l domain.LeaseManager) *AnomalyWatcher {
	w.leases = l
	return w
}

// Run scans on every tick until ctx is cancelled.
func (w *AnomalyWatcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "anomaly watcher started", slog.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("anomaly watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.ScanOnce(ctx)
		}
	}
}

// ScanOnce checks every tracked symbol and returns how many alerts were
// raised.
func (w *AnomalyWatcher) ScanOnce(ctx context.Context) int {
	raised := 0
	for _, symbol := range w.symbols.Symbols() {
		anomalies, err := w.detector.DetectAnomalies(ctx, symbol)
		if err != nil {
			if !errors.Is(err, domain.ErrInsufficientData) && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "anomaly detection failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		for _, a := range anomalies {
			telemetry.AnomaliesDetected.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
			if a.Severity.Rank() < domain.SeverityHigh.Rank() || !w.due(a) {
				continue
			}
			release, ok := w.lease(ctx, a)
			if !ok {
				continue
			}
			if err := w.raise(ctx, a); err != nil && release != nil {
				// Free the lease so another instance can deliver it.
				release()
			}
			raised++
		}
	}
	return raised
}

func (w *AnomalyWatcher) due(a domain.Anomaly) bool {
	key := a.Symbol + "|" + string(a.Type)
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	if last, ok := w.lastSent[key]; ok && now.Sub(last) < w.cooldown {
		return false
	}
	w.lastSent[key] = now
	return true
}

// lease claims the shared alert slot for a. It fails open when the lease
// manager errors.
func (w *AnomalyWatcher) lease(ctx context.Context, a domain.Anomaly) (func(), bool) {
	if w.leases == nil || w.cooldown <= 0 {
		return nil, true
	}
	release, err := w.leases.Acquire(ctx, "alert:"+a.Symbol+":"+string(a.Type), w.cooldown)
	switch {
	case errors.Is(err, domain.ErrLeaseHeld):
		w.logger.DebugContext(ctx, "alert already raised elsewhere",
			slog.String("symbol", a.Symbol),
			slog.String("type", string(a.Type)),
		)
		return nil, false
	case err != nil:
		w.logger.WarnContext(ctx, "alert lease failed", slog.String("error", err.Error()))
		return nil, true
	}
	return release, true
}

func (w *AnomalyWatcher) raise(ctx context.Context, a domain.Anomaly) error {
	w.logger.WarnContext(ctx, "anomaly detected",
		slog.String("symbol", a.Symbol),
		slog.String("type", string(a.Type)),
		slog.String("severity", string(a.Severity)),
		slog.Float64("confidence", a.Confidence),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if w.journal != nil {
		detail := map[string]any{
			"id":             a.ID,
			"type":           a.Type,
			"severity":       a.Severity,
			"confidence":     a.Confidence,
			"levels":         a.AffectedLevels,
			"recommendation": a.Recommendation,
		}
		if err := w.journal.Record(writeCtx, a.Symbol, "anomaly", detail); err != nil {
			w.logger.WarnContext(ctx, "journal write failed", slog.String("error", err.Error()))
		}
	}
	if w.alerter != nil {
		if err := w.alerter.NotifyAnomaly(writeCtx, a); err != nil {
			w.logger.WarnContext(ctx, "anomaly alert failed", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}
