package subscription

import (
	"log/slog"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/feed"
	"github.com/alanyoungcy/depthwatch/internal/platform/binance"
	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// Streams builds unconnected upstream streams for one symbol. The manager
// asks for a fresh stream on every reconnect.
type Streams interface {
	DepthStream(symbol string, onUpdate func(domain.DepthUpdate)) feed.Stream
	TradeStream(symbol string, onTrade func(domain.AggTrade)) feed.Stream
}

// BinanceStreams opens Binance raw streams.
type BinanceStreams struct {
	wsURL  string
	logger *slog.Logger
}

// NewBinanceStreams creates a Streams backed by the Binance websocket API at
// wsURL, e.g. "wss://stream.binance.com:9443".
func NewBinanceStreams(wsURL string, logger *slog.Logger) *BinanceStreams {
	return &BinanceStreams{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "binance_streams")),
	}
}

// DepthStream returns a diff-depth stream client for symbol.
func (b *BinanceStreams) DepthStream(symbol string, onUpdate func(domain.DepthUpdate)) feed.Stream {
	c := binance.NewStreamClient(binance.DepthStreamURL(b.wsURL, symbol))
	c.OnDepthUpdate(onUpdate)
	c.OnMalformed(b.malformed("depth", symbol))
	return c
}

// TradeStream returns an aggregate-trade stream client for symbol.
func (b *BinanceStreams) TradeStream(symbol string, onTrade func(domain.AggTrade)) feed.Stream {
	c := binance.NewStreamClient(binance.TradeStreamURL(b.wsURL, symbol))
	c.OnAggTrade(onTrade)
	c.OnMalformed(b.malformed("trade", symbol))
	return c
}

func (b *BinanceStreams) malformed(stream, symbol string) binance.MalformedHandler {
	return func(raw []byte, err error) {
		telemetry.MalformedMessages.WithLabelValues(stream).Inc()
		b.logger.Warn("dropping malformed message",
			slog.String("stream", stream),
			slog.String("symbol", symbol),
			slog.Int("bytes", len(raw)),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ Streams = (*BinanceStreams)(nil)
