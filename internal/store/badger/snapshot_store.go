package badger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a snapshot store on db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// PutSnapshot writes snap under its symbol and capture second. A second
// capture within the same second replaces the first.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := SnapshotKey(snap.Symbol, snap.Timestamp.Unix())
	val := EncodeSnapshot(snap)
	err := s.db.update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("badger: put snapshot %s: %w", key, err)
	}
	return nil
}

// ListSnapshots returns the snapshots of symbol captured in [from, to],
// oldest first. Undecodable records are logged, counted and skipped.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, symbol string, from, to time.Time) ([]domain.OrderBookSnapshot, error) {
	var out []domain.OrderBookSnapshot
	start := SnapshotKey(symbol, from.Unix())
	end := SnapshotKey(symbol, to.Unix())

	err := s.db.scan(ctx, snapshotPrefix(symbol), start, end, func(key, val []byte) error {
		snap, err := DecodeSnapshot(val)
		if err != nil {
			s.db.logger.WarnContext(ctx, "skipping undecodable snapshot",
				slog.String("key", string(key)),
				slog.String("error", err.Error()),
			)
			telemetry.DecodeFailures.WithLabelValues(string(domain.KindSnapshot)).Inc()
			return nil
		}
		out = append(out, snap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list snapshots %s: %w", symbol, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
