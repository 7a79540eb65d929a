package badger

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Field numbers of the stored records. Readers skip fields they do not know,
// so new fields may be appended without a migration.
const (
	snapSymbol   protowire.Number = 1
	snapUnixSec  protowire.Number = 2
	snapUpdateID protowire.Number = 3
	snapBid      protowire.Number = 4
	snapAsk      protowire.Number = 5

	levelPrice protowire.Number = 1
	levelQty   protowire.Number = 2

	batchSymbol  protowire.Number = 1
	batchStartMs protowire.Number = 2
	batchTrade   protowire.Number = 3

	tradePrice        protowire.Number = 1
	tradeQty          protowire.Number = 2
	tradeTimeMs       protowire.Number = 3
	tradeID           protowire.Number = 4
	tradeBuyerIsMaker protowire.Number = 5
)

// EncodeSnapshot serialises a book snapshot.
func EncodeSnapshot(snap domain.OrderBookSnapshot) []byte {
	b := make([]byte, 0, 32+len(snap.Bids)*20+len(snap.Asks)*20)
	b = protowire.AppendTag(b, snapSymbol, protowire.BytesType)
	b = protowire.AppendString(b, snap.Symbol)
	b = protowire.AppendTag(b, snapUnixSec, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(snap.Timestamp.Unix()))
	b = protowire.AppendTag(b, snapUpdateID, protowire.VarintType)
	b = protowire.AppendVarint(b, snap.LastUpdateID)
	for _, l := range snap.Bids {
		b = protowire.AppendTag(b, snapBid, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLevel(l))
	}
	for _, l := range snap.Asks {
		b = protowire.AppendTag(b, snapAsk, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLevel(l))
	}
	return b
}

// DecodeSnapshot parses a record written by EncodeSnapshot.
func DecodeSnapshot(b []byte) (domain.OrderBookSnapshot, error) {
	var snap domain.OrderBookSnapshot
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == snapSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			snap.Symbol = v
			return n, nil
		case num == snapUnixSec && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			snap.Timestamp = time.Unix(int64(v), 0).UTC()
			return n, nil
		case num == snapUpdateID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			snap.LastUpdateID = v
			return n, nil
		case (num == snapBid || num == snapAsk) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			l, err := decodeLevel(v)
			if err != nil {
				return 0, err
			}
			if num == snapBid {
				snap.Bids = append(snap.Bids, l)
			} else {
				snap.Asks = append(snap.Asks, l)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("%w: snapshot: %v", domain.ErrDecode, err)
	}
	if snap.Symbol == "" {
		return domain.OrderBookSnapshot{}, fmt.Errorf("%w: snapshot: missing symbol", domain.ErrDecode)
	}
	return snap, nil
}

// EncodeTradeBatch serialises a trade batch.
func EncodeTradeBatch(batch domain.TradeBatch) []byte {
	b := make([]byte, 0, 24+len(batch.Trades)*40)
	b = protowire.AppendTag(b, batchSymbol, protowire.BytesType)
	b = protowire.AppendString(b, batch.Symbol)
	b = protowire.AppendTag(b, batchStartMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(batch.StartMs))
	for _, t := range batch.Trades {
		b = protowire.AppendTag(b, batchTrade, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTrade(t))
	}
	return b
}

// DecodeTradeBatch parses a record written by EncodeTradeBatch. Trades get
// the batch symbol.
func DecodeTradeBatch(b []byte) (domain.TradeBatch, error) {
	var batch domain.TradeBatch
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == batchSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			batch.Symbol = v
			return n, nil
		case num == batchStartMs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			batch.StartMs = int64(v)
			return n, nil
		case num == batchTrade && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := decodeTrade(v)
			if err != nil {
				return 0, err
			}
			batch.Trades = append(batch.Trades, t)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return domain.TradeBatch{}, fmt.Errorf("%w: trade batch: %v", domain.ErrDecode, err)
	}
	if batch.Symbol == "" {
		return domain.TradeBatch{}, fmt.Errorf("%w: trade batch: missing symbol", domain.ErrDecode)
	}
	for i := range batch.Trades {
		batch.Trades[i].Symbol = batch.Symbol
	}
	return batch, nil
}

func encodeLevel(l domain.PriceLevel) []byte {
	b := make([]byte, 0, 18)
	b = protowire.AppendTag(b, levelPrice, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(l.Price))
	b = protowire.AppendTag(b, levelQty, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(l.Quantity))
	return b
}

func decodeLevel(b []byte) (domain.PriceLevel, error) {
	var l domain.PriceLevel
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.Fixed64Type && (num == levelPrice || num == levelQty) {
			v, n := protowire.ConsumeFixed64(b)
			if num == levelPrice {
				l.Price = math.Float64frombits(v)
			} else {
				l.Quantity = math.Float64frombits(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return l, err
}

func encodeTrade(t domain.AggTrade) []byte {
	b := make([]byte, 0, 40)
	b = protowire.AppendTag(b, tradePrice, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(t.Price))
	b = protowire.AppendTag(b, tradeQty, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(t.Quantity))
	b = protowire.AppendTag(b, tradeTimeMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.TimeMs))
	b = protowire.AppendTag(b, tradeID, protowire.VarintType)
	b = protowire.AppendVarint(b, t.TradeID)
	b = protowire.AppendTag(b, tradeBuyerIsMaker, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(t.BuyerIsMaker))
	return b
}

func decodeTrade(b []byte) (domain.AggTrade, error) {
	var t domain.AggTrade
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == tradePrice && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			t.Price = math.Float64frombits(v)
			return n, nil
		case num == tradeQty && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			t.Quantity = math.Float64frombits(v)
			return n, nil
		case num == tradeTimeMs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.TimeMs = int64(v)
			return n, nil
		case num == tradeID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.TradeID = v
			return n, nil
		case num == tradeBuyerIsMaker && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			t.BuyerIsMaker = protowire.DecodeBool(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return t, err
}

// walkFields reads tags from b and hands each value to fn, which returns the
// number of bytes it consumed (negative on a protowire error).
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
