package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// handshakeTimeout bounds the websocket upgrade.
	handshakeTimeout = 15 * time.Second
)

// DepthUpdateHandler is called for every decoded diff-depth event.
type DepthUpdateHandler func(domain.DepthUpdate)

// AggTradeHandler is called for every decoded aggregate trade.
type AggTradeHandler func(domain.AggTrade)

// MalformedHandler is called when a frame cannot be decoded. The frame is
// dropped after the handler returns.
type MalformedHandler func(raw []byte, err error)

// StreamClient is a websocket client for one Binance raw stream. It decodes
// depthUpdate and aggTrade events and dispatches them to registered handlers
// from the read loop goroutine, in arrival order.
type StreamClient struct {
	url    string
	dialer websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	depthHandlers     []DepthUpdateHandler
	tradeHandlers     []AggTradeHandler
	malformedHandlers []MalformedHandler
	handlerMu         sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewStreamClient creates a client for the given stream URL, e.g.
// "wss://stream.binance.com:9443/ws/btcusdt@depth@100ms".
func NewStreamClient(streamURL string) *StreamClient {
	return &StreamClient{
		url:    streamURL,
		dialer: websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		done:   make(chan struct{}),
	}
}

// URL returns the stream URL.
func (c *StreamClient) URL() string { return c.url }

// Connect dials the stream.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect %s: %w", c.url, err)
	}

	c.conn = conn
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Binance sends pings; answering them also refreshes the read deadline.
	c.conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	return nil
}

// Listen reads frames until the connection fails, ctx is cancelled or the
// client is closed. It always returns a non-nil error describing why reading
// stopped; a cancelled ctx yields ctx.Err().
func (c *StreamClient) Listen(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("binance/ws: not connected")
	}

	stop := make(chan struct{})
	defer close(stop)

	go c.pingLoop(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-c.done:
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.done:
				return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
			default:
			}
			return fmt.Errorf("binance/ws: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		c.handleMessage(message)
	}
}

// Close shuts down the connection.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return c.conn.Close()
	}
	return nil
}

// OnDepthUpdate registers a diff-depth handler.
func (c *StreamClient) OnDepthUpdate(handler DepthUpdateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.depthHandlers = append(c.depthHandlers, handler)
}

// OnAggTrade registers an aggregate trade handler.
func (c *StreamClient) OnAggTrade(handler AggTradeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.tradeHandlers = append(c.tradeHandlers, handler)
}

// OnMalformed registers a handler for frames that fail to decode.
func (c *StreamClient) OnMalformed(handler MalformedHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.malformedHandlers = append(c.malformedHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (c *StreamClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a raw frame and routes it by event type. Combined
// stream frames ({"stream":...,"data":{...}}) are unwrapped first.
func (c *StreamClient) handleMessage(raw []byte) {
	var envelope struct {
		Event  string          `json:"e"`
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.malformed(raw, fmt.Errorf("decode envelope: %w", err))
		return
	}
	if envelope.Stream != "" && len(envelope.Data) > 0 {
		c.handleMessage(envelope.Data)
		return
	}

	switch envelope.Event {
	case "depthUpdate":
		var msg DepthUpdateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.malformed(raw, fmt.Errorf("decode depthUpdate: %w", err))
			return
		}
		update, err := msg.ToDomain()
		if err != nil {
			c.malformed(raw, err)
			return
		}

		c.handlerMu.RLock()
		handlers := c.depthHandlers
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(update)
		}

	case "aggTrade":
		var msg AggTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.malformed(raw, fmt.Errorf("decode aggTrade: %w", err))
			return
		}
		trade, err := msg.ToDomain()
		if err != nil {
			c.malformed(raw, err)
			return
		}

		c.handlerMu.RLock()
		handlers := c.tradeHandlers
		c.handlerMu.RUnlock()
		for _, h := range handlers {
			h(trade)
		}
	}
}

func (c *StreamClient) malformed(raw []byte, err error) {
	c.handlerMu.RLock()
	handlers := c.malformedHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(raw, err)
	}
}
