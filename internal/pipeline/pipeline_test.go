package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeBooks struct {
	books map[string]domain.OrderBookSnapshot
}

func (f *fakeBooks) Symbols() []string {
	out := make([]string, 0, len(f.books))
	for s := range f.books {
		out = append(out, s)
	}
	return out
}

func (f *fakeBooks) Snapshot(symbol string) (domain.OrderBookSnapshot, error) {
	s, ok := f.books[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotSubscribed
	}
	return s, nil
}

type fakeSnapshotStore struct {
	mu       sync.Mutex
	failNext int
	puts     []domain.OrderBookSnapshot
}

func (f *fakeSnapshotStore) PutSnapshot(_ context.Context, snap domain.OrderBookSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("disk full")
	}
	f.puts = append(f.puts, snap)
	return nil
}

func (f *fakeSnapshotStore) ListSnapshots(context.Context, string, time.Time, time.Time) ([]domain.OrderBookSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type fakeMirror struct {
	mu   sync.Mutex
	sets int
}

func (f *fakeMirror) SetSnapshot(context.Context, domain.OrderBookSnapshot) error {
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return nil
}

func (f *fakeMirror) GetSnapshot(context.Context, string) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

type failingPublisher struct{}

func (failingPublisher) PublishSnapshot(context.Context, domain.OrderBookSnapshot) error {
	return errors.New("broker down")
}

func liveBook(symbol string) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Symbol:       symbol,
		LastUpdateID: 1,
		Bids:         []domain.PriceLevel{{Price: 100, Quantity: 1}},
		Asks:         []domain.PriceLevel{{Price: 101, Quantity: 1}},
	}
}

func TestSnapshotTaskSkipsEmptyBooks(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{
		"BTCUSDT": liveBook("BTCUSDT"),
		"ETHUSDT": {Symbol: "ETHUSDT"},
	}}
	store := &fakeSnapshotStore{}
	mirror := &fakeMirror{}
	task := NewSnapshotTask(books, store, mirror, failingPublisher{}, time.Second, discard())
	fixed := time.Unix(1_700_000_000, 500)
	task.now = func() time.Time { return fixed }

	assert.Equal(t, 1, task.CaptureOnce(context.Background()))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "BTCUSDT", store.puts[0].Symbol)
	assert.Equal(t, fixed.UTC(), store.puts[0].Timestamp)
	assert.Equal(t, 1, mirror.sets)
	assert.Equal(t, CaptureIdle, task.State("BTCUSDT"))
}

func TestSnapshotTaskSurvivesWriteFault(t *testing.T) {
	books := &fakeBooks{books: map[string]domain.OrderBookSnapshot{"BTCUSDT": liveBook("BTCUSDT")}}
	store := &fakeSnapshotStore{failNext: 1}
	task := NewSnapshotTask(books, store, nil, nil, 5*time.Millisecond, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	require.Eventually(t, func() bool { return store.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type fakeTradeStore struct {
	mu       sync.Mutex
	failNext int
	batches  []domain.TradeBatch
}

func (f *fakeTradeStore) PutTradeBatch(_ context.Context, b domain.TradeBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("write timeout")
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeTradeStore) ListTradeBatches(context.Context, string, time.Time, time.Time) ([]domain.TradeBatch, error) {
	return nil, nil
}

func TestTradeTaskFlushSortsAndKeysByEarliest(t *testing.T) {
	store := &fakeTradeStore{}
	task := NewTradeTask(store, time.Second, discard())

	task.Add(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 3, TimeMs: 3000})
	task.Add(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 1, TimeMs: 1000})
	task.Add(domain.AggTrade{Symbol: "ETHUSDT", TradeID: 9, TimeMs: 2000})
	task.Add(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 2, TimeMs: 2000})
	assert.Equal(t, 4, task.Pending())

	assert.Equal(t, 2, task.Flush(context.Background()))
	assert.Zero(t, task.Pending())

	var btc domain.TradeBatch
	for _, b := range store.batches {
		if b.Symbol == "BTCUSDT" {
			btc = b
		}
	}
	assert.Equal(t, int64(1000), btc.StartMs)
	require.Len(t, btc.Trades, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{btc.Trades[0].TradeID, btc.Trades[1].TradeID, btc.Trades[2].TradeID})

	assert.Zero(t, task.Flush(context.Background()), "empty flush writes nothing")
}

func TestTradeTaskSurvivesWriteFault(t *testing.T) {
	store := &fakeTradeStore{failNext: 1}
	task := NewTradeTask(store, time.Second, discard())

	task.Add(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 1, TimeMs: 1000})
	assert.Zero(t, task.Flush(context.Background()))

	task.Add(domain.AggTrade{Symbol: "BTCUSDT", TradeID: 2, TimeMs: 2000})
	assert.Equal(t, 1, task.Flush(context.Background()))
	require.Len(t, store.batches, 1)
	assert.Equal(t, int64(2000), store.batches[0].StartMs)
}

type fakeRetention struct {
	records map[domain.RecordKind][]domain.ExpiredRecord
	deleted map[domain.RecordKind]int64
}

func (f *fakeRetention) ScanExpired(_ context.Context, kind domain.RecordKind, cutoff time.Time, fn func(domain.ExpiredRecord) error) error {
	for _, r := range f.records[kind] {
		if r.Timestamp.Before(cutoff) {
			if err := fn(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *fakeRetention) DeleteBefore(_ context.Context, kind domain.RecordKind, cutoff time.Time) (int64, error) {
	var kept []domain.ExpiredRecord
	var n int64
	for _, r := range f.records[kind] {
		if r.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.records[kind] = kept
	f.deleted[kind] += n
	return n, nil
}

type fakeArchiver struct {
	failKind domain.RecordKind
	batches  []domain.ArchiveBatch
}

func (f *fakeArchiver) Archive(_ context.Context, b domain.ArchiveBatch) (string, error) {
	if b.Kind == f.failKind {
		return "", errors.New("s3 unavailable")
	}
	f.batches = append(f.batches, b)
	return "archive/" + string(b.Kind) + "/" + b.Symbol, nil
}

func TestSweeperArchivesThenDeletes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := now.Add(-200 * time.Hour)
	fresh := now.Add(-time.Hour)
	store := &fakeRetention{
		records: map[domain.RecordKind][]domain.ExpiredRecord{
			domain.KindSnapshot: {
				{Kind: domain.KindSnapshot, Symbol: "BTCUSDT", Timestamp: old},
				{Kind: domain.KindSnapshot, Symbol: "ETHUSDT", Timestamp: old},
				{Kind: domain.KindSnapshot, Symbol: "BTCUSDT", Timestamp: fresh},
			},
			domain.KindTrades: {
				{Kind: domain.KindTrades, Symbol: "BTCUSDT", Timestamp: old},
			},
		},
		deleted: make(map[domain.RecordKind]int64),
	}
	archiver := &fakeArchiver{failKind: domain.KindTrades}
	sw := NewSweeper(store, archiver, nil, nil, 168*time.Hour, time.Hour, discard())
	sw.now = func() time.Time { return now }

	res, err := sw.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(2), res.Deleted[domain.KindSnapshot])
	assert.Len(t, res.Archived[domain.KindSnapshot], 2)
	assert.Equal(t, []domain.RecordKind{domain.KindTrades}, res.Skipped)
	assert.Len(t, store.records[domain.KindTrades], 1, "trades kept when archiving fails")

	// The next tick retries; a second sweep over clean data is a no-op.
	archiver.failKind = ""
	res, err = sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted[domain.KindTrades])
	assert.Zero(t, res.Deleted[domain.KindSnapshot])
}

func TestSweeperWithoutArchiver(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeRetention{
		records: map[domain.RecordKind][]domain.ExpiredRecord{
			domain.KindSnapshot: {{Symbol: "BTCUSDT", Timestamp: now.Add(-169 * time.Hour)}},
		},
		deleted: make(map[domain.RecordKind]int64),
	}
	sw := NewSweeper(store, nil, nil, nil, 168*time.Hour, time.Hour, discard())
	sw.now = func() time.Time { return now }

	res, err := sw.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Deleted[domain.KindSnapshot])
}

type staticSymbols []string

func (s staticSymbols) Symbols() []string { return s }

type fakeDetector struct {
	anomalies map[string][]domain.Anomaly
}

func (f *fakeDetector) DetectAnomalies(_ context.Context, symbol string) ([]domain.Anomaly, error) {
	a, ok := f.anomalies[symbol]
	if !ok {
		return nil, &domain.InsufficientDataError{Analytic: "anomalies", Need: 2, Got: 0}
	}
	return a, nil
}

type alertRecorder struct{ alerts []domain.Anomaly }

func (r *alertRecorder) NotifyAnomaly(_ context.Context, a domain.Anomaly) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type journalRecorder struct{ events []string }

func (j *journalRecorder) Record(_ context.Context, symbol, event string, _ map[string]any) error {
	j.events = append(j.events, symbol+":"+event)
	return nil
}

func (j *journalRecorder) List(context.Context, string, time.Time, int) ([]domain.JournalEntry, error) {
	return nil, nil
}

func TestAnomalyWatcherAlertsHighSeverityWithCooldown(t *testing.T) {
	detector := &fakeDetector{anomalies: map[string][]domain.Anomaly{
		"BTCUSDT": {
			{Symbol: "BTCUSDT", Type: domain.AnomalyFlashCrashRisk, Severity: domain.SeverityCritical},
			{Symbol: "BTCUSDT", Type: domain.AnomalyQuoteStuffing, Severity: domain.SeverityMedium},
		},
	}}
	alerts := &alertRecorder{}
	journal := &journalRecorder{}
	w := NewAnomalyWatcher(staticSymbols{"BTCUSDT", "ETHUSDT"}, detector, alerts, journal, time.Second, 5*time.Minute, discard())
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }

	assert.Equal(t, 1, w.ScanOnce(context.Background()))
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, domain.AnomalyFlashCrashRisk, alerts.alerts[0].Type)
	assert.Equal(t, []string{"BTCUSDT:anomaly"}, journal.events)

	assert.Zero(t, w.ScanOnce(context.Background()), "suppressed during cooldown")

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 1, w.ScanOnce(context.Background()))
}

type memLeases struct {
	held     map[string]bool
	released []string
}

func (m *memLeases) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if m.held[key] {
		return nil, domain.ErrLeaseHeld
	}
	m.held[key] = true
	return func() {
		delete(m.held, key)
		m.released = append(m.released, key)
	}, nil
}

type failingAlerter struct{}

func (failingAlerter) NotifyAnomaly(context.Context, domain.Anomaly) error {
	return errors.New("webhook down")
}

func TestAnomalyWatchersSharingLeasesAlertOnce(t *testing.T) {
	detector := &fakeDetector{anomalies: map[string][]domain.Anomaly{
		"BTCUSDT": {{Symbol: "BTCUSDT", Type: domain.AnomalyFlashCrashRisk, Severity: domain.SeverityCritical}},
	}}
	leases := &memLeases{held: map[string]bool{}}
	first, second := &alertRecorder{}, &alertRecorder{}

	a := NewAnomalyWatcher(staticSymbols{"BTCUSDT"}, detector, first, nil, time.Second, time.Minute, discard()).WithLeases(leases)
	b := NewAnomalyWatcher(staticSymbols{"BTCUSDT"}, detector, second, nil, time.Second, time.Minute, discard()).WithLeases(leases)

	assert.Equal(t, 1, a.ScanOnce(context.Background()))
	assert.Zero(t, b.ScanOnce(context.Background()))
	assert.Len(t, first.alerts, 1)
	assert.Empty(t, second.alerts)
	assert.True(t, leases.held["alert:BTCUSDT:FlashCrashRisk"])
}

func TestAnomalyWatcherReleasesLeaseWhenAlertFails(t *testing.T) {
	detector := &fakeDetector{anomalies: map[string][]domain.Anomaly{
		"BTCUSDT": {{Symbol: "BTCUSDT", Type: domain.AnomalyFlashCrashRisk, Severity: domain.SeverityHigh}},
	}}
	leases := &memLeases{held: map[string]bool{}}
	w := NewAnomalyWatcher(staticSymbols{"BTCUSDT"}, detector, failingAlerter{}, nil, time.Second, time.Minute, discard()).WithLeases(leases)

	w.ScanOnce(context.Background())
	assert.Equal(t, []string{"alert:BTCUSDT:FlashCrashRisk"}, leases.released)
	assert.Empty(t, leases.held)
}
