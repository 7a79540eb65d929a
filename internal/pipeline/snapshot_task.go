package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// BookSource exposes the live books without touching their access time.
type BookSource interface {
	Symbols() []string
	Snapshot(symbol string) (domain.OrderBookSnapshot, error)
}

// CaptureState is the per-symbol phase of the snapshot task.
type CaptureState string

const (
	CaptureIdle      CaptureState = "idle"
	CaptureCapturing CaptureState = "capturing"
	CaptureWriting   CaptureState = "writing"
)

// SnapshotTask captures every tracked book once per interval and writes it
// to the time-series store. The mirror and publisher are optional
// best-effort side outputs.
type SnapshotTask struct {
	books        BookSource
	store        domain.SnapshotStore
	mirror       domain.BookMirror
	publisher    domain.SnapshotPublisher
	interval     time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	states map[string]CaptureState
}

// NewSnapshotTask creates a SnapshotTask. mirror and publisher may be nil.
func NewSnapshotTask(books BookSource, store domain.SnapshotStore, mirror domain.BookMirror, publisher domain.SnapshotPublisher, interval time.Duration, logger *slog.Logger) *SnapshotTask {
	if interval <= 0 {
		interval = time.Second
	}
	return &SnapshotTask{
		books:        books,
		store:        store,
		mirror:       mirror,
		publisher:    publisher,
		interval:     interval,
		writeTimeout: 5 * time.Second,
		logger:       logger.With(slog.String("component", "snapshot_task")),
		now:          time.Now,
		states:       make(map[string]CaptureState),
	}
}

// Run captures on every tick until ctx is cancelled. Failures are logged and
// never stop the loop.
func (t *SnapshotTask) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "snapshot task started", slog.Duration("interval", t.interval))
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("snapshot task stopped")
			return ctx.Err()
		case <-ticker.C:
			t.CaptureOnce(ctx)
		}
	}
}

// CaptureOnce captures and writes every tracked book and returns how many
// snapshots were stored.
func (t *SnapshotTask) CaptureOnce(ctx context.Context) int {
	written := 0
	for _, symbol := range t.books.Symbols() {
		if t.capture(ctx, symbol) {
			written++
		}
	}
	return written
}

func (t *SnapshotTask) capture(ctx context.Context, symbol string) bool {
	t.setState(symbol, CaptureCapturing)
	defer t.setState(symbol, CaptureIdle)

	snap, err := t.books.Snapshot(symbol)
	if err != nil || snap.Empty() {
		t.logger.WarnContext(ctx, "skipping empty book", slog.String("symbol", symbol))
		return false
	}
	snap.Timestamp = t.now().UTC()

	// In-flight writes finish even when shutdown has begun.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.writeTimeout)
	defer cancel()

	t.setState(symbol, CaptureWriting)
	if err := t.store.PutSnapshot(writeCtx, snap); err != nil {
		telemetry.StoreWrites.WithLabelValues(string(domain.KindSnapshot), "error").Inc()
		t.logger.ErrorContext(ctx, "snapshot write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return false
	}
	telemetry.StoreWrites.WithLabelValues(string(domain.KindSnapshot), "ok").Inc()

	if t.mirror != nil {
		if err := t.mirror.SetSnapshot(writeCtx, snap); err != nil {
			t.logger.WarnContext(ctx, "book mirror failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if t.publisher != nil {
		if err := t.publisher.PublishSnapshot(writeCtx, snap); err != nil {
			t.logger.WarnContext(ctx, "snapshot publish failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// State returns the capture phase of symbol.
func (t *SnapshotTask) State(symbol string) CaptureState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[symbol]; ok {
		return s
	}
	return CaptureIdle
}

func (t *SnapshotTask) setState(symbol string, s CaptureState) {
	t.mu.Lock()
	t.states[symbol] = s
	t.mu.Unlock()
}
