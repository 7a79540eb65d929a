package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// TradeStore implements domain.TradeStore.
type TradeStore struct {
	db *DB
}

// NewTradeStore creates a trade store on db.
func NewTradeStore(db *DB) *TradeStore {
	return &TradeStore{db: db}
}

// PutTradeBatch writes batch under its start millisecond. When a batch with
// the same start already exists the two are merged by trade id, so a flush
// that straddles a millisecond never loses trades.
func (s *TradeStore) PutTradeBatch(ctx context.Context, batch domain.TradeBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(batch.Trades) == 0 {
		return nil
	}
	key := TradeKey(batch.Symbol, batch.StartMs)

	err := s.db.update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var existing domain.TradeBatch
			if err := item.Value(func(v []byte) error {
				existing, err = DecodeTradeBatch(v)
				return err
			}); err == nil {
				batch = mergeBatches(existing, batch)
			}
		}
		return txn.Set(key, EncodeTradeBatch(batch))
	})
	if err != nil {
		return fmt.Errorf("badger: put trades %s: %w", key, err)
	}
	return nil
}

// ListTradeBatches returns the batches of symbol whose start lies in
// [from, to], oldest first.
func (s *TradeStore) ListTradeBatches(ctx context.Context, symbol string, from, to time.Time) ([]domain.TradeBatch, error) {
	var out []domain.TradeBatch
	start := TradeKey(symbol, from.UnixMilli())
	end := TradeKey(symbol, to.UnixMilli())

	err := s.db.scan(ctx, tradeSymbolPrefix(symbol), start, end, func(key, val []byte) error {
		batch, err := DecodeTradeBatch(val)
		if err != nil {
			s.db.logger.WarnContext(ctx, "skipping undecodable trade batch",
				slog.String("key", string(key)),
				slog.String("error", err.Error()),
			)
			telemetry.DecodeFailures.WithLabelValues(string(domain.KindTrades)).Inc()
			return nil
		}
		out = append(out, batch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list trades %s: %w", symbol, err)
	}
	return out, nil
}

func mergeBatches(a, b domain.TradeBatch) domain.TradeBatch {
	seen := make(map[uint64]struct{}, len(a.Trades)+len(b.Trades))
	merged := make([]domain.AggTrade, 0, len(a.Trades)+len(b.Trades))
	for _, t := range append(a.Trades, b.Trades...) {
		if _, dup := seen[t.TradeID]; dup {
			continue
		}
		seen[t.TradeID] = struct{}{}
		merged = append(merged, t)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].TimeMs < merged[j].TimeMs })
	return domain.TradeBatch{Symbol: b.Symbol, StartMs: min(a.StartMs, b.StartMs), Trades: merged}
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
