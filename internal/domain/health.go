package domain

import "time"

// FeedStatus is the overall status reported to the outer gateway.
type FeedStatus string

const (
	FeedOk       FeedStatus = "ok"
	FeedDegraded FeedStatus = "degraded"
	FeedError    FeedStatus = "error"
)

// SymbolHealth is the per-symbol part of BookHealth.
type SymbolHealth struct {
	Symbol          string            `json:"symbol"`
	State           SubscriptionState `json:"state"`
	LastUpdateAgeMs int64             `json:"last_update_age_ms"`
	Connected       bool              `json:"connected"`
	Resyncs         int64             `json:"resyncs"`
}

// BookHealth summarises live-book freshness across all tracked symbols.
type BookHealth struct {
	Status             FeedStatus     `json:"status"`
	ActiveSymbols      int            `json:"active_symbols"`
	MaxUpdateAgeMs     int64          `json:"max_update_age_ms"`
	WebsocketConnected bool           `json:"websocket_connected"`
	Symbols            []SymbolHealth `json:"symbols"`
	Reason             string         `json:"reason,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
}
