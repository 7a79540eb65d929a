package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// BookChannelPrefix prefixes the pub/sub channel a mirrored book update is
// announced on.
const BookChannelPrefix = "ch:book:"

// BookMirror implements domain.BookMirror using Redis sorted sets and
// hashes for each symbol's captured book.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size - hash mapping price -> quantity for bids
//	book:{symbol}:ask:size - hash mapping price -> quantity for asks
//	book:{symbol}:bbo      - hash with fields "bid" and "ask" (best prices)
//	book:{symbol}:meta     - hash with "ts" (unix nanos) and "update_id"
//
// Every key expires after the configured TTL so a symbol that stops being
// captured disappears from the mirror.
type BookMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookMirror creates a BookMirror. A non-positive ttl keeps keys forever.
func NewBookMirror(c *Client, ttl time.Duration) *BookMirror {
	return &BookMirror{rdb: c.Underlying(), ttl: ttl}
}

type bookKeys struct {
	bids, asks, bidSize, askSize, bbo, meta string
}

func keysFor(symbol string) bookKeys {
	p := "book:" + symbol
	return bookKeys{
		bids:    p + ":bids",
		asks:    p + ":asks",
		bidSize: p + ":bid:size",
		askSize: p + ":ask:size",
		bbo:     p + ":bbo",
		meta:    p + ":meta",
	}
}

func (k bookKeys) all() []string {
	return []string{k.bids, k.asks, k.bidSize, k.askSize, k.bbo, k.meta}
}

// bookUpdate is the pub/sub announcement of a mirrored snapshot.
type bookUpdate struct {
	Symbol   string  `json:"symbol"`
	BestBid  float64 `json:"best_bid"`
	BestAsk  float64 `json:"best_ask"`
	UpdateID uint64  `json:"last_update_id"`
	TsMs     int64   `json:"ts_ms"`
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetSnapshot atomically replaces the mirrored book for snap.Symbol and
// announces it on ch:book:{symbol}.
func (m *BookMirror) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	k := keysFor(snap.Symbol)
	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, k.all()...)

	for _, lvl := range snap.Bids {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.bids, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.bidSize, price, formatFloat(lvl.Quantity))
	}
	for _, lvl := range snap.Asks {
		price := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, k.asks, redis.Z{Score: lvl.Price, Member: price})
		pipe.HSet(ctx, k.askSize, price, formatFloat(lvl.Quantity))
	}

	update := bookUpdate{
		Symbol:   snap.Symbol,
		UpdateID: snap.LastUpdateID,
		TsMs:     snap.Timestamp.UnixMilli(),
	}
	if bid, ok := snap.BestBid(); ok {
		update.BestBid = bid.Price
		pipe.HSet(ctx, k.bbo, "bid", formatFloat(bid.Price))
	}
	if ask, ok := snap.BestAsk(); ok {
		update.BestAsk = ask.Price
		pipe.HSet(ctx, k.bbo, "ask", formatFloat(ask.Price))
	}
	pipe.HSet(ctx, k.meta,
		"ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10),
		"update_id", strconv.FormatUint(snap.LastUpdateID, 10),
	)
	if m.ttl > 0 {
		for _, key := range k.all() {
			pipe.Expire(ctx, key, m.ttl)
		}
	}

	if payload, err := json.Marshal(update); err == nil {
		pipe.Publish(ctx, BookChannelPrefix+snap.Symbol, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot reconstructs the mirrored book. It returns domain.ErrNotFound
// if nothing is mirrored for symbol.
func (m *BookMirror) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	k := keysFor(symbol)
	pipe := m.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, k.bids, 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, k.asks, 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, k.bidSize)
	askSizeCmd := pipe.HGetAll(ctx, k.askSize)
	metaCmd := pipe.HGetAll(ctx, k.meta)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderBookSnapshot{Symbol: symbol}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ns).UTC()
	}
	if id, err := strconv.ParseUint(meta["update_id"], 10, 64); err == nil {
		snap.LastUpdateID = id
	}

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	snap.Bids = levelsFrom(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	snap.Asks = levelsFrom(asksZ, askSizes)

	return snap, nil
}

func levelsFrom(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		price, ok := z.Member.(string)
		if !ok {
			continue
		}
		qty, _ := strconv.ParseFloat(sizes[price], 64)
		out = append(out, domain.PriceLevel{Price: z.Score, Quantity: qty})
	}
	return out
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
