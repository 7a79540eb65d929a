package domain

import "time"

// PriceLevel is a single price+quantity entry in an order book ladder.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Side identifies one side of the book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// OrderBookSnapshot is an immutable point-in-time capture of one symbol's
// book. Bids are sorted descending and asks ascending.
type OrderBookSnapshot struct {
	Symbol       string       `json:"symbol"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	LastUpdateID uint64       `json:"last_update_id"`
	Timestamp    time.Time    `json:"timestamp"`

	// Stale is set on reads when the owning store has not applied an update
	// within the staleness threshold.
	Stale bool `json:"stale"`
	// Age is the time since the last successful apply at read time.
	Age time.Duration `json:"age"`
}

// Empty reports whether both sides are empty.
func (s OrderBookSnapshot) Empty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// BestBid returns the highest bid, or false when the bid side is empty.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Mid returns the mid price. ok is false unless both sides are populated.
func (s OrderBookSnapshot) Mid() (mid float64, ok bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns best ask minus best bid.
func (s OrderBookSnapshot) Spread() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// TotalQuantity sums quantity over both sides.
func (s OrderBookSnapshot) TotalQuantity() float64 {
	var total float64
	for _, l := range s.Bids {
		total += l.Quantity
	}
	for _, l := range s.Asks {
		total += l.Quantity
	}
	return total
}

// DepthSnapshot is a full-depth book returned by the one-shot REST query.
type DepthSnapshot struct {
	Symbol       string
	LastUpdateID uint64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// DepthUpdate is one incremental diff-depth event. FirstUpdateID and
// FinalUpdateID bound the sequence range the event covers. A zero quantity
// removes the level.
type DepthUpdate struct {
	Symbol        string
	FirstUpdateID uint64
	FinalUpdateID uint64
	EventTime     time.Time
	Bids          []PriceLevel
	Asks          []PriceLevel
}

// SubscriptionState is the lifecycle state of a tracked symbol.
type SubscriptionState string

const (
	StateDisconnected SubscriptionState = "disconnected"
	StateConnecting   SubscriptionState = "connecting"
	StateLive         SubscriptionState = "live"
	StateStale        SubscriptionState = "stale"
	StateError        SubscriptionState = "error"
)
