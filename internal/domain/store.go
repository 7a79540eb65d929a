package domain

import (
	"context"
	"time"
)

// SnapshotStore persists order book snapshots keyed by (symbol, second).
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	// ListSnapshots returns snapshots with from <= timestamp <= to, oldest
	// first. Records that fail to decode are skipped.
	ListSnapshots(ctx context.Context, symbol string, from, to time.Time) ([]OrderBookSnapshot, error)
}

// TradeStore persists trade batches keyed by (symbol, batch start ms).
type TradeStore interface {
	PutTradeBatch(ctx context.Context, batch TradeBatch) error
	// ListTradeBatches returns batches whose start lies in [from, to], oldest
	// first.
	ListTradeBatches(ctx context.Context, symbol string, from, to time.Time) ([]TradeBatch, error)
}

// RecordKind names one key space of the time-series store.
type RecordKind string

const (
	KindSnapshot RecordKind = "snapshots"
	KindTrades   RecordKind = "trades"
)

// ExpiredRecord is a raw stored record selected for retention deletion.
type ExpiredRecord struct {
	Kind      RecordKind
	Key       []byte
	Symbol    string
	Timestamp time.Time
	Value     []byte
}

// RetentionStore enforces the retention horizon.
type RetentionStore interface {
	// ScanExpired calls fn for every record of kind older than cutoff.
	ScanExpired(ctx context.Context, kind RecordKind, cutoff time.Time, fn func(ExpiredRecord) error) error
	// DeleteBefore removes every record of kind older than cutoff and returns
	// how many keys were deleted.
	DeleteBefore(ctx context.Context, kind RecordKind, cutoff time.Time) (int64, error)
}

// JournalEntry is one row of the event journal.
type JournalEntry struct {
	ID        int64          `json:"id"`
	Symbol    string         `json:"symbol"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// Journal is an append-only audit trail of engine events.
type Journal interface {
	Record(ctx context.Context, symbol, event string, detail map[string]any) error
	List(ctx context.Context, symbol string, since time.Time, limit int) ([]JournalEntry, error)
}
