// Package ws relays book updates and anomaly alerts from the pub/sub bus to
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	rediscache "github.com/alanyoungcy/depthwatch/internal/cache/redis"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels relayed by the hub. Clients start subscribed to all of them.
var defaultChannels = []string{
	rediscache.BookChannelPrefix + "*",
	"ch:anomaly",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Subscriber is the pub/sub side of the bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan rediscache.Message, error)
}

// Config carries the metadata sent to clients on connect.
type Config struct {
	Mode      string
	Symbols   func() []string
	StartedAt time.Time
}

// envelope is the frame format for relayed messages.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and fans bus messages out to those
// subscribed to the originating channel.
type Hub struct {
	bus        Subscriber
	cfg        Config
	logger     *slog.Logger
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a Hub reading from bus.
func NewHub(bus Subscriber, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if cfg.Symbols == nil {
		cfg.Symbols = func() []string { return nil }
	}
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
	}
}

// Run relays bus messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
		}
	}
}

// sendTo queues frame for c unless the client has already been dropped.
func (h *Hub) sendTo(c *client, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("relaying channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			frame, err := frameFor(m)
			if err != nil {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: m.Channel, data: frame}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// frameFor wraps a bus message in an envelope. Book channels become type
// "book", everything else uses the channel suffix.
func frameFor(m rediscache.Message) ([]byte, error) {
	kind := strings.TrimPrefix(m.Channel, "ch:")
	if strings.HasPrefix(m.Channel, rediscache.BookChannelPrefix) {
		kind = "book"
	}
	payload := json.RawMessage(m.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(m.Payload))
		if err != nil {
			return nil, err
		}
		payload = quoted
	}
	return json.Marshal(envelope{Type: kind, Channel: m.Channel, Payload: payload})
}

// HandleWS upgrades the connection and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: newChannelSet(defaultChannels...),
	}

	h.register <- c
	c.send <- h.statusFrame()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusFrame() []byte {
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.cfg.Mode,
		"symbols":        h.cfg.Symbols(),
		"uptime_seconds": int64(max(time.Since(h.cfg.StartedAt).Seconds(), 0)),
	})
	frame, _ := json.Marshal(envelope{Type: "status", Payload: payload})
	return frame
}
