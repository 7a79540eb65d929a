package domain

import "time"

// FlowDirection classifies order-flow pressure.
type FlowDirection string

const (
	FlowStrongBuy    FlowDirection = "STRONG_BUY"
	FlowModerateBuy  FlowDirection = "MODERATE_BUY"
	FlowNeutral      FlowDirection = "NEUTRAL"
	FlowModerateSell FlowDirection = "MODERATE_SELL"
	FlowStrongSell   FlowDirection = "STRONG_SELL"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Rank orders severities for comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ImpactLevel is the expected price impact of a liquidity vacuum.
type ImpactLevel string

const (
	ImpactFastMovement     ImpactLevel = "FastMovement"
	ImpactModerateMovement ImpactLevel = "ModerateMovement"
	ImpactNegligible       ImpactLevel = "Negligible"
)

// VolumeBin is one histogram bucket of a volume profile.
type VolumeBin struct {
	PriceLevel float64 `json:"price_level"`
	Volume     float64 `json:"volume"`
	TradeCount int     `json:"trade_count"`
}

// VolumeProfile buckets traded volume by price over a window.
type VolumeProfile struct {
	Symbol         string      `json:"symbol"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
	PriceLow       float64     `json:"price_low"`
	PriceHigh      float64     `json:"price_high"`
	BinSize        float64     `json:"bin_size"`
	Histogram      []VolumeBin `json:"histogram"`
	TotalVolume    float64     `json:"total_volume"`
	TradeCount     int         `json:"trade_count"`
	PointOfControl float64     `json:"point_of_control"`
	ValueAreaHigh  float64     `json:"value_area_high"`
	ValueAreaLow   float64     `json:"value_area_low"`
	ValueAreaPct   float64     `json:"value_area_pct"`
}

// OrderFlow summarises aggressor activity and resting-book pressure over a
// window.
type OrderFlow struct {
	Symbol          string        `json:"symbol"`
	WindowStart     time.Time     `json:"window_start"`
	WindowEnd       time.Time     `json:"window_end"`
	WindowSecs      float64       `json:"window_secs"`
	BuyVolume       float64       `json:"buy_volume"`
	SellVolume      float64       `json:"sell_volume"`
	BuyCount        int           `json:"buy_count"`
	SellCount       int           `json:"sell_count"`
	BuyRate         float64       `json:"buy_rate"`
	SellRate        float64       `json:"sell_rate"`
	NetFlow         float64       `json:"net_flow"`
	BidFlowRate     float64       `json:"bid_flow_rate"`
	AskFlowRate     float64       `json:"ask_flow_rate"`
	CumulativeDelta float64       `json:"cumulative_delta"`
	Direction       FlowDirection `json:"direction"`
}

// LiquidityVacuum is a contiguous price range with thin resting volume.
type LiquidityVacuum struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	PriceLow     float64     `json:"price_low"`
	PriceHigh    float64     `json:"price_high"`
	DeficitPct   float64     `json:"deficit_pct"`
	MedianVolume float64     `json:"median_volume"`
	ActualVolume float64     `json:"actual_volume"`
	Impact       ImpactLevel `json:"impact"`
	DetectedAt   time.Time   `json:"detected_at"`
}

// PositionDirection is the side of a position a stop protects.
type PositionDirection string

const (
	DirectionLong  PositionDirection = "long"
	DirectionShort PositionDirection = "short"
)

// StopAnchor names what a suggested stop is placed behind.
type StopAnchor string

const (
	AnchorVacuum  StopAnchor = "vacuum"
	AnchorWall    StopAnchor = "wall"
	AnchorDefault StopAnchor = "default"
)

// StopSuggestion is a stop-loss price placed in solid liquidity beyond the
// nearest thin zone or wall on the losing side of a position.
type StopSuggestion struct {
	Symbol         string            `json:"symbol"`
	Direction      PositionDirection `json:"direction"`
	ReferencePrice float64           `json:"reference_price"`
	StopPrice      float64           `json:"stop_price"`
	DistanceBps    float64           `json:"distance_bps"`
	Anchor         StopAnchor        `json:"anchor"`
	AnchorLow      float64           `json:"anchor_low,omitempty"`
	AnchorHigh     float64           `json:"anchor_high,omitempty"`
	Explanation    string            `json:"explanation"`
}

// AnomalyType names the anomaly variant.
type AnomalyType string

const (
	AnomalyQuoteStuffing  AnomalyType = "QuoteStuffing"
	AnomalyIcebergOrder   AnomalyType = "IcebergOrder"
	AnomalyFlashCrashRisk AnomalyType = "FlashCrashRisk"
)

// Anomaly is a detected market-microstructure anomaly. Only the detail block
// matching Type is populated.
type Anomaly struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Type           AnomalyType `json:"type"`
	DetectedAt     time.Time   `json:"detected_at"`
	Confidence     float64     `json:"confidence"`
	AffectedLevels []float64   `json:"affected_levels"`
	Severity       Severity    `json:"severity"`
	Recommendation string      `json:"recommendation"`

	QuoteStuffing *QuoteStuffingDetail `json:"quote_stuffing,omitempty"`
	Iceberg       *IcebergDetail       `json:"iceberg,omitempty"`
	FlashCrash    *FlashCrashDetail    `json:"flash_crash,omitempty"`
}

// QuoteStuffingDetail carries quote-stuffing measurements.
type QuoteStuffingDetail struct {
	UpdateRate     float64 `json:"update_rate"`
	FillRate       float64 `json:"fill_rate"`
	BaselineRate   float64 `json:"baseline_rate"`
	BaselineFactor float64 `json:"baseline_factor"`
}

// IcebergDetail carries iceberg-order measurements.
type IcebergDetail struct {
	PriceLevel           float64 `json:"price_level"`
	Side                 Side    `json:"side"`
	RefillCount          int     `json:"refill_count"`
	RefillRateMultiplier float64 `json:"refill_rate_multiplier"`
	MedianRefillRate     float64 `json:"median_refill_rate"`
}

// FlashCrashDetail carries flash-crash-risk measurements.
type FlashCrashDetail struct {
	DepthLossPct     float64 `json:"depth_loss_pct"`
	SpreadMultiplier float64 `json:"spread_multiplier"`
	CancellationRate float64 `json:"cancellation_rate"`
	PriceMoveBps     float64 `json:"price_move_bps"`
}

// EntityType is the suspected owner of absorbing liquidity.
type EntityType string

const (
	EntityMarketMaker EntityType = "MarketMaker"
	EntityWhale       EntityType = "Whale"
	EntityUnknown     EntityType = "Unknown"
)

// AbsorptionDirection tells whether absorbed liquidity sits on the bid or
// the ask.
type AbsorptionDirection string

const (
	Accumulation AbsorptionDirection = "Accumulation"
	Distribution AbsorptionDirection = "Distribution"
)

// AbsorptionEvent is a level that repeatedly absorbs aggressive flow and
// refills.
type AbsorptionEvent struct {
	ID             string              `json:"id"`
	Symbol         string              `json:"symbol"`
	PriceLevel     float64             `json:"price_level"`
	AbsorbedVolume float64             `json:"absorbed_volume"`
	RefillCount    int                 `json:"refill_count"`
	FirstDetected  time.Time           `json:"first_detected"`
	LastUpdated    time.Time           `json:"last_updated"`
	Entity         EntityType          `json:"suspected_entity"`
	Direction      AbsorptionDirection `json:"direction"`
}

// HealthStatus is the coarse status of a composite microstructure score.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "Healthy"
	HealthDegraded HealthStatus = "Degraded"
	HealthPoor     HealthStatus = "Poor"
	HealthCritical HealthStatus = "Critical"
)

// MicrostructureHealth is a 0-100 composite of component scores.
type MicrostructureHealth struct {
	Symbol          string       `json:"symbol"`
	Timestamp       time.Time    `json:"timestamp"`
	OverallScore    float64      `json:"overall_score"`
	SpreadStability float64      `json:"spread_stability_score"`
	LiquidityDepth  float64      `json:"liquidity_depth_score"`
	FlowBalance     float64      `json:"flow_balance_score"`
	UpdateRate      float64      `json:"update_rate_score"`
	Level           string       `json:"health_level"`
	Status          HealthStatus `json:"status"`
	Warnings        []string     `json:"warnings"`
	Recommendation  string       `json:"recommended_action"`
	Samples         int          `json:"samples"`
}
