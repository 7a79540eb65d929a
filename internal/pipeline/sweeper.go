package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// archiveChunk bounds how many records go into one archive object.
const archiveChunk = 5000

// GarbageCollector reclaims space after deletes.
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Cutoff   time.Time
	Deleted  map[domain.RecordKind]int64
	Archived map[domain.RecordKind][]string
	Skipped  []domain.RecordKind
}

// Sweeper enforces the retention horizon: it optionally copies expiring
// records to cold storage, then deletes them.
type Sweeper struct {
	store     domain.RetentionStore
	archiver  domain.Archiver
	gc        GarbageCollector
	journal   domain.Journal
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	trigger   <-chan struct{}
}

// NewSweeper creates a Sweeper. archiver, gc and journal may be nil.
func NewSweeper(store domain.RetentionStore, archiver domain.Archiver, gc GarbageCollector, journal domain.Journal, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		archiver:  archiver,
		gc:        gc,
		journal:   journal,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "retention_sweeper")),
		now:       time.Now,
	}
}

// WithTrigger makes Run also sweep whenever ch receives.
func (s *Sweeper) WithTrigger(ch <-chan struct{}) *Sweeper {
	s.trigger = ch
	return s
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is retried
// on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "retention sweeper started",
		slog.Duration("retention", s.retention),
		slog.Duration("interval", s.interval),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
			s.logger.InfoContext(ctx, "manual sweep requested")
		}
		if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
	}
}

// Sweep runs one retention pass over both record kinds. Errors on one kind do
// not stop the other; the joined error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{
		Cutoff:   s.now().UTC().Add(-s.retention),
		Deleted:  make(map[domain.RecordKind]int64),
		Archived: make(map[domain.RecordKind][]string),
	}

	var errs []error
	for _, kind := range []domain.RecordKind{domain.KindSnapshot, domain.KindTrades} {
		if s.archiver != nil {
			paths, err := s.archive(ctx, kind, res.Cutoff)
			res.Archived[kind] = paths
			if err != nil {
				res.Skipped = append(res.Skipped, kind)
				errs = append(errs, fmt.Errorf("archive %s: %w", kind, err))
				continue
			}
		}

		n, err := s.store.DeleteBefore(ctx, kind, res.Cutoff)
		res.Deleted[kind] = n
		telemetry.SweptRecords.WithLabelValues(string(kind)).Add(float64(n))
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", kind, err))
		}
	}

	if s.gc != nil && res.Deleted[domain.KindSnapshot]+res.Deleted[domain.KindTrades] > 0 {
		if err := s.gc.RunGC(0.5); err != nil {
			s.logger.WarnContext(ctx, "value log gc failed", slog.String("error", err.Error()))
		}
	}

	s.logger.InfoContext(ctx, "sweep complete",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("snapshots_deleted", res.Deleted[domain.KindSnapshot]),
		slog.Int64("trades_deleted", res.Deleted[domain.KindTrades]),
		slog.Int("archive_objects", len(res.Archived[domain.KindSnapshot])+len(res.Archived[domain.KindTrades])),
	)
	s.recordSweep(res)
	return res, errors.Join(errs...)
}

// archive uploads expiring records of kind grouped by symbol.
func (s *Sweeper) archive(ctx context.Context, kind domain.RecordKind, cutoff time.Time) ([]string, error) {
	bySymbol := make(map[string][]domain.ExpiredRecord)
	err := s.store.ScanExpired(ctx, kind, cutoff, func(rec domain.ExpiredRecord) error {
		bySymbol[rec.Symbol] = append(bySymbol[rec.Symbol], rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var paths []string
	for _, sym := range symbols {
		recs := bySymbol[sym]
		for len(recs) > 0 {
			n := min(len(recs), archiveChunk)
			path, err := s.archiver.Archive(ctx, domain.ArchiveBatch{Kind: kind, Symbol: sym, Records: recs[:n]})
			if err != nil {
				return paths, fmt.Errorf("%s: %w", sym, err)
			}
			paths = append(paths, path)
			recs = recs[n:]
		}
	}
	return paths, nil
}

func (s *Sweeper) recordSweep(res SweepResult) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	detail := map[string]any{
		"cutoff":            res.Cutoff,
		"snapshots_deleted": res.Deleted[domain.KindSnapshot],
		"trades_deleted":    res.Deleted[domain.KindTrades],
		"archived":          len(res.Archived[domain.KindSnapshot]) + len(res.Archived[domain.KindTrades]),
	}
	if len(res.Skipped) > 0 {
		detail["skipped"] = res.Skipped
	}
	if err := s.journal.Record(ctx, "", "retention_sweep", detail); err != nil {
		s.logger.Warn("journal write failed", slog.String("error", err.Error()))
	}
}
