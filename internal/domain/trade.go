package domain

import "time"

// AggTrade is one executed aggregate trade.
type AggTrade struct {
	Symbol   string  `json:"symbol"`
	TradeID  uint64  `json:"trade_id"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	// TimeMs is the execution time in unix milliseconds.
	TimeMs int64 `json:"time_ms"`
	// BuyerIsMaker reports that the buyer was the passive side, which makes
	// the seller the aggressor.
	BuyerIsMaker bool `json:"buyer_is_maker"`
}

// Time returns the execution time.
func (t AggTrade) Time() time.Time {
	return time.UnixMilli(t.TimeMs).UTC()
}

// AggressorBuy reports whether the taker bought.
func (t AggTrade) AggressorBuy() bool {
	return !t.BuyerIsMaker
}

// Notional returns price times quantity.
func (t AggTrade) Notional() float64 {
	return t.Price * t.Quantity
}

// TradeBatch holds all trades for one symbol captured during one flush
// interval, ordered by execution time.
type TradeBatch struct {
	Symbol string
	// StartMs is the execution time of the earliest trade in the batch.
	StartMs int64
	Trades  []AggTrade
}
