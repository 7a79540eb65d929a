package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// APIDepth is the response of GET /api/v3/depth.
type APIDepth struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// APIError is the error body Binance returns on non-2xx responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// --------------------------------------------------------------------------
// Stream DTOs
// --------------------------------------------------------------------------

// DepthUpdateMessage is a diff-depth stream event ("e":"depthUpdate").
type DepthUpdateMessage struct {
	EventType     string      `json:"e"`
	EventTime     int64       `json:"E"`
	Symbol        string      `json:"s"`
	FirstUpdateID uint64      `json:"U"`
	FinalUpdateID uint64      `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// AggTradeMessage is an aggregate trade stream event ("e":"aggTrade").
type AggTradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggTradeID   uint64 `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID uint64 `json:"f"`
	LastTradeID  uint64 `json:"l"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// --------------------------------------------------------------------------
// Conversions
// --------------------------------------------------------------------------

// ToDomain converts a REST depth response into a domain snapshot.
func (d *APIDepth) ToDomain(symbol string) (domain.DepthSnapshot, error) {
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("asks: %w", err)
	}
	return domain.DepthSnapshot{
		Symbol:       symbol,
		LastUpdateID: d.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// ToDomain converts a diff-depth event into a domain update.
func (m *DepthUpdateMessage) ToDomain() (domain.DepthUpdate, error) {
	if m.FinalUpdateID < m.FirstUpdateID {
		return domain.DepthUpdate{}, fmt.Errorf("update range %d..%d is inverted", m.FirstUpdateID, m.FinalUpdateID)
	}
	bids, err := parseLevels(m.Bids)
	if err != nil {
		return domain.DepthUpdate{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(m.Asks)
	if err != nil {
		return domain.DepthUpdate{}, fmt.Errorf("asks: %w", err)
	}
	return domain.DepthUpdate{
		Symbol:        strings.ToUpper(m.Symbol),
		FirstUpdateID: m.FirstUpdateID,
		FinalUpdateID: m.FinalUpdateID,
		EventTime:     time.UnixMilli(m.EventTime).UTC(),
		Bids:          bids,
		Asks:          asks,
	}, nil
}

// ToDomain converts an aggregate trade event into a domain trade.
func (m *AggTradeMessage) ToDomain() (domain.AggTrade, error) {
	price, err := strconv.ParseFloat(m.Price, 64)
	if err != nil || price <= 0 {
		return domain.AggTrade{}, fmt.Errorf("price %q: invalid", m.Price)
	}
	qty, err := strconv.ParseFloat(m.Quantity, 64)
	if err != nil || qty <= 0 {
		return domain.AggTrade{}, fmt.Errorf("quantity %q: invalid", m.Quantity)
	}
	if m.TradeTime <= 0 {
		return domain.AggTrade{}, fmt.Errorf("trade time %d: invalid", m.TradeTime)
	}
	return domain.AggTrade{
		Symbol:       strings.ToUpper(m.Symbol),
		TradeID:      m.AggTradeID,
		Price:        price,
		Quantity:     qty,
		TimeMs:       m.TradeTime,
		BuyerIsMaker: m.BuyerIsMaker,
	}, nil
}

func parseLevels(raw [][2]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, err := strconv.ParseFloat(r[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", r[0], err)
		}
		qty, err := strconv.ParseFloat(r[1], 64)
		if err != nil {
			return nil, fmt.Errorf("quantity %q: %w", r[1], err)
		}
		if price <= 0 || qty < 0 {
			return nil, fmt.Errorf("level %s@%s out of range", r[1], r[0])
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// DepthStreamURL returns the 100ms diff-depth stream URL for symbol.
func DepthStreamURL(wsBase, symbol string) string {
	return strings.TrimRight(wsBase, "/") + "/ws/" + strings.ToLower(symbol) + "@depth@100ms"
}

// TradeStreamURL returns the aggregate trade stream URL for symbol.
func TradeStreamURL(wsBase, symbol string) string {
	return strings.TrimRight(wsBase, "/") + "/ws/" + strings.ToLower(symbol) + "@aggTrade"
}
