package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/depthwatch/internal/cache/redis"
)

type fakeBus struct {
	chans map[string]chan rediscache.Message
}

func newFakeBus() *fakeBus {
	b := &fakeBus{chans: map[string]chan rediscache.Message{}}
	for _, ch := range defaultChannels {
		b.chans[ch] = make(chan rediscache.Message, 4)
	}
	return b
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan rediscache.Message, error) {
	return b.chans[channel], nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHubRelaysBookUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newFakeBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:    "Track",
		Symbols: func() []string { return []string{"BTCUSDT"} },
	})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(status.Payload, &payload))
	assert.Equal(t, "track", payload["mode"])
	assert.Equal(t, []any{"BTCUSDT"}, payload["symbols"])

	bus.chans["ch:book:*"] <- rediscache.Message{
		Channel: "ch:book:BTCUSDT",
		Payload: []byte(`{"symbol":"BTCUSDT"}`),
	}
	book := readEnvelope(t, conn)
	assert.Equal(t, "book", book.Type)
	assert.Equal(t, "ch:book:BTCUSDT", book.Channel)
	assert.JSONEq(t, `{"symbol":"BTCUSDT"}`, string(book.Payload))
}

func TestFrameForQuotesNonJSONPayloads(t *testing.T) {
	frame, err := frameFor(rediscache.Message{Channel: "ch:anomaly", Payload: []byte("plain")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"anomaly","channel":"ch:anomaly","payload":"plain"}`, string(frame))
}

func TestClientSubscriptionMatching(t *testing.T) {
	c := &client{subs: newChannelSet("ch:book:*")}
	assert.True(t, c.isSubscribed("ch:book:ETHUSDT"))
	assert.False(t, c.isSubscribed("ch:anomaly"))

	assert.True(t, c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:book:*"}}))
	assert.True(t, c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"ch:anomaly"}}))
	assert.False(t, c.apply(subscribeMsg{Action: "mute"}))
	assert.False(t, c.isSubscribed("ch:book:ETHUSDT"))
	assert.True(t, c.isSubscribed("ch:anomaly"))
}

func TestClientAcknowledgesSubscriptionChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(newFakeBus(), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "status", readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:anomaly"}}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscriptions", ack.Type)
	assert.JSONEq(t, `{"channels":["ch:book:*"]}`, string(ack.Payload))
}
