// Package badger implements the time-series store on an embedded BadgerDB:
// snapshot and trade-batch records under lexicographically ordered keys, plus
// retention deletes.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Config holds the database location and tuning.
type Config struct {
	Path string
	// InMemory keeps everything in RAM; Path is ignored.
	InMemory   bool
	SyncWrites bool
}

// DB wraps an open badger database.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
	closed atomic.Bool
}

// Open opens (or creates) the database.
func Open(cfg Config, logger *slog.Logger) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil).WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}
	return &DB{
		db:     db,
		logger: logger.With(slog.String("component", "badger_store")),
	}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

// update runs fn in a read-write transaction.
func (d *DB) update(fn func(txn *badger.Txn) error) error {
	if d.closed.Load() {
		return domain.ErrStoreClosed
	}
	return mapErr(d.db.Update(fn))
}

// RunGC reclaims value-log space. It returns nil when there was nothing to
// collect.
func (d *DB) RunGC(discardRatio float64) error {
	if d.closed.Load() {
		return domain.ErrStoreClosed
	}
	err := d.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return mapErr(err)
}

// scan iterates keys in [start, end] that share prefix, oldest first.
func (d *DB) scan(ctx context.Context, prefix, start, end []byte, fn func(key, val []byte) error) error {
	if d.closed.Load() {
		return domain.ErrStoreClosed
	}
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			if end != nil && string(key) > string(end) {
				return nil
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, val); err != nil {
				return err
			}
		}
		return nil
	})
	return mapErr(err)
}

func mapErr(err error) error {
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites) {
		return fmt.Errorf("%w: %v", domain.ErrStoreClosed, err)
	}
	return err
}
