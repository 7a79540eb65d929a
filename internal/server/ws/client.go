package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// channelSet is a client's subscription list. Entries ending in "*" match
// every channel sharing the prefix.
type channelSet map[string]struct{}

func newChannelSet(channels ...string) channelSet {
	s := make(channelSet, len(channels))
	for _, ch := range channels {
		s[ch] = struct{}{}
	}
	return s
}

func (s channelSet) matches(channel string) bool {
	if _, ok := s[channel]; ok {
		return true
	}
	for pattern := range s {
		if prefix, wild := strings.CutSuffix(pattern, "*"); wild && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (s channelSet) sorted() []string {
	out := make([]string, 0, len(s))
	for ch := range s {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// subscribeMsg changes the channel set, e.g.
// {"action":"unsubscribe","channels":["ch:book:*"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs channelSet
}

// apply edits the channel set and reports whether msg was understood.
func (c *client) apply(msg subscribeMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	default:
		return false
	}
	return true
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs.matches(channel)
}

// subscriptionsFrame echoes the current channel set back to the client.
func (c *client) subscriptionsFrame() []byte {
	c.mu.RLock()
	channels := c.subs.sorted()
	c.mu.RUnlock()
	payload, _ := json.Marshal(map[string][]string{"channels": channels})
	frame, _ := json.Marshal(envelope{Type: "subscriptions", Payload: payload})
	return frame
}

// readPump consumes control messages until the peer goes away, then hands
// the client back to the hub.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("client read failed", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil || !c.apply(msg) {
			continue
		}
		c.hub.sendTo(c, c.subscriptionsFrame())
	}
}

// writePump owns every write on the connection, interleaving relayed frames
// with keepalive pings.
func (c *client) writePump() {
	keepalive := time.NewTicker(pingPeriod)
	defer func() {
		keepalive.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-keepalive.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}
