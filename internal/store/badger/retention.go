package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// deleteChunk bounds how many keys one write batch deletes.
const deleteChunk = 10_000

// Retention implements domain.RetentionStore over both key spaces.
type Retention struct {
	db *DB
}

// NewRetention creates the retention view of db.
func NewRetention(db *DB) *Retention {
	return &Retention{db: db}
}

// ScanExpired calls fn for every record of kind whose timestamp is before
// cutoff.
func (r *Retention) ScanExpired(ctx context.Context, kind domain.RecordKind, cutoff time.Time, fn func(domain.ExpiredRecord) error) error {
	prefix, parse, err := keySpace(kind, cutoff)
	if err != nil {
		return err
	}
	return r.db.scan(ctx, prefix, prefix, nil, func(key, val []byte) error {
		symbol, ts, expired := parse(key)
		if !expired {
			return nil
		}
		return fn(domain.ExpiredRecord{Kind: kind, Key: key, Symbol: symbol, Timestamp: ts, Value: val})
	})
}

// DeleteBefore deletes every record of kind older than cutoff. Running it
// twice is harmless.
func (r *Retention) DeleteBefore(ctx context.Context, kind domain.RecordKind, cutoff time.Time) (int64, error) {
	var keys [][]byte
	err := r.ScanExpired(ctx, kind, cutoff, func(rec domain.ExpiredRecord) error {
		keys = append(keys, rec.Key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger: scan expired %s: %w", kind, err)
	}

	var deleted int64
	for len(keys) > 0 {
		n := min(len(keys), deleteChunk)
		wb := r.db.db.NewWriteBatch()
		for _, k := range keys[:n] {
			if err := wb.Delete(k); err != nil {
				wb.Cancel()
				return deleted, fmt.Errorf("badger: delete %s: %w", kind, mapErr(err))
			}
		}
		if err := wb.Flush(); err != nil {
			return deleted, fmt.Errorf("badger: flush deletes %s: %w", kind, mapErr(err))
		}
		deleted += int64(n)
		keys = keys[n:]
	}
	return deleted, nil
}

type keyParser func(key []byte) (symbol string, ts time.Time, expired bool)

// keySpace returns the iteration prefix and an expiry test for kind.
// Snapshot keys have no common prefix, so the snapshot space is the whole
// keyspace minus trade keys.
func keySpace(kind domain.RecordKind, cutoff time.Time) ([]byte, keyParser, error) {
	switch kind {
	case domain.KindSnapshot:
		return nil, func(key []byte) (string, time.Time, bool) {
			symbol, sec, ok := parseSnapshotKey(key)
			if !ok {
				return "", time.Time{}, false
			}
			ts := time.Unix(sec, 0).UTC()
			return symbol, ts, ts.Before(cutoff)
		}, nil
	case domain.KindTrades:
		return []byte(tradePrefix), func(key []byte) (string, time.Time, bool) {
			symbol, ms, ok := parseTradeKey(key)
			if !ok {
				return "", time.Time{}, false
			}
			ts := time.UnixMilli(ms).UTC()
			return symbol, ts, ts.Before(cutoff)
		}, nil
	default:
		return nil, nil, fmt.Errorf("badger: unknown record kind %q", kind)
	}
}

// Compile-time interface check.
var _ domain.RetentionStore = (*Retention)(nil)
