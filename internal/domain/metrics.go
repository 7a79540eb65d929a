package domain

import "time"

// Wall is an abnormally large resting level.
type Wall struct {
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	// Multiple is the level quantity divided by the side average.
	Multiple float64 `json:"multiple"`
}

// SlippageEstimate is the result of walking one side of the ladder to fill a
// notional amount.
type SlippageEstimate struct {
	// Side is the side of the aggressing order: a buy walks the asks.
	Side           OrderSide `json:"side"`
	TargetNotional float64   `json:"target_notional"`
	FilledNotional float64   `json:"filled_notional"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgPrice       float64   `json:"avg_price"`
	SlippageBps    float64   `json:"slippage_bps"`
	LevelsConsumed int       `json:"levels_consumed"`
	// Complete is false when the visible ladder could not fill the target.
	Complete bool `json:"complete"`
}

// OrderSide is the direction of a hypothetical aggressing order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// L1Metrics are best-of-book derived metrics.
type L1Metrics struct {
	Symbol     string             `json:"symbol"`
	BestBid    float64            `json:"best_bid"`
	BestBidQty float64            `json:"best_bid_qty"`
	BestAsk    float64            `json:"best_ask"`
	BestAskQty float64            `json:"best_ask_qty"`
	MidPrice   float64            `json:"mid_price"`
	SpreadBps  float64            `json:"spread_bps"`
	Microprice float64            `json:"microprice"`
	Imbalance  float64            `json:"imbalance"`
	BidVolume  float64            `json:"bid_volume"`
	AskVolume  float64            `json:"ask_volume"`
	Walls      []Wall             `json:"walls"`
	Slippage   []SlippageEstimate `json:"slippage"`
	LastUpdate uint64             `json:"last_update_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Stale      bool               `json:"stale"`
	AgeMs      int64              `json:"age_ms"`
}

// L2Depth is the compact multi-level view: parallel price and quantity
// arrays, plus integer-scaled copies for compact transport.
type L2Depth struct {
	Symbol     string     `json:"symbol"`
	Levels     int        `json:"levels"`
	BidPrices  []float64  `json:"bid_prices"`
	BidQtys    []float64  `json:"bid_qtys"`
	AskPrices  []float64  `json:"ask_prices"`
	AskQtys    []float64  `json:"ask_qtys"`
	PriceScale int64      `json:"price_scale"`
	QtyScale   int64      `json:"qty_scale"`
	BidsScaled [][2]int64 `json:"bids_scaled"`
	AsksScaled [][2]int64 `json:"asks_scaled"`
	LastUpdate uint64     `json:"last_update_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Stale      bool       `json:"stale"`
	AgeMs      int64      `json:"age_ms"`
}
