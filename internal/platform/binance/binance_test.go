package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

func TestFetchDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":1027024,"bids":[["4.00000000","431.00000000"],["3.90","1"]],"asks":[["4.00000200","12.00000000"]]}`))
	}))
	defer srv.Close()

	client := NewDepthClient(RESTConfig{BaseURL: srv.URL, RequestsPerMinute: 1000, QueueTimeout: time.Second})
	snap, err := client.FetchDepth(context.Background(), "BTCUSDT", 0)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, uint64(1027024), snap.LastUpdateID)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, domain.PriceLevel{Price: 4, Quantity: 431}, snap.Bids[0])
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 4.000002, snap.Asks[0].Price)
}

func TestFetchDepthErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"code":-1003,"msg":"Too many requests"}`, want: domain.ErrRateLimited},
		{name: "banned", status: http.StatusTeapot, body: `{"code":-1003,"msg":"banned"}`, want: domain.ErrRateLimited},
		{name: "invalid symbol", status: http.StatusBadRequest, body: `{"code":-1121,"msg":"Invalid symbol."}`, want: domain.ErrInvalidSymbol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewDepthClient(RESTConfig{BaseURL: srv.URL})
			_, err := client.FetchDepth(context.Background(), "NOPEUSDT", 100)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestFetchDepthQueueTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[],"asks":[]}`))
	}))
	defer srv.Close()

	// One request per minute with a burst of one: the second call must wait
	// far longer than the queue timeout allows.
	client := NewDepthClient(RESTConfig{BaseURL: srv.URL, RequestsPerMinute: 1, QueueTimeout: 20 * time.Millisecond})
	_, err := client.FetchDepth(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)

	_, err = client.FetchDepth(context.Background(), "BTCUSDT", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestDepthUpdateToDomain(t *testing.T) {
	msg := DepthUpdateMessage{
		EventType: "depthUpdate", EventTime: 1700000000000, Symbol: "btcusdt",
		FirstUpdateID: 157, FinalUpdateID: 160,
		Bids: [][2]string{{"0.0024", "10"}},
		Asks: [][2]string{{"0.0026", "0"}},
	}
	update, err := msg.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", update.Symbol)
	assert.Equal(t, uint64(157), update.FirstUpdateID)
	assert.Equal(t, 0.0, update.Asks[0].Quantity)

	msg.FinalUpdateID = 100
	_, err = msg.ToDomain()
	assert.Error(t, err)

	msg.FinalUpdateID = 160
	msg.Bids = [][2]string{{"abc", "1"}}
	_, err = msg.ToDomain()
	assert.Error(t, err)
}

func TestAggTradeToDomain(t *testing.T) {
	msg := AggTradeMessage{EventType: "aggTrade", Symbol: "ETHUSDT", AggTradeID: 9, Price: "2000.5", Quantity: "0.25", TradeTime: 1700000000123, BuyerIsMaker: true}
	trade, err := msg.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, 2000.5, trade.Price)
	assert.False(t, trade.AggressorBuy())

	msg.Quantity = "-1"
	_, err = msg.ToDomain()
	assert.Error(t, err)
}

func TestStreamURLs(t *testing.T) {
	assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@depth@100ms", DepthStreamURL("wss://stream.binance.com:9443/", "BTCUSDT"))
	assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@aggTrade", TradeStreamURL("wss://stream.binance.com:9443", "BTCUSDT"))
}

func TestStreamClientDispatch(t *testing.T) {
	frames := []string{
		`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[["100.0","1.5"]],"a":[]}`,
		`not json`,
		`{"e":"aggTrade","E":2,"s":"BTCUSDT","a":7,"p":"100.1","q":"0.5","T":1700000000000,"m":false}`,
		`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":3,"s":"BTCUSDT","a":8,"p":"100.2","q":"0.1","T":1700000000001,"m":true}}`,
	}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewStreamClient("ws" + strings.TrimPrefix(srv.URL, "http"))

	var (
		mu        sync.Mutex
		updates   []domain.DepthUpdate
		trades    []domain.AggTrade
		malformed int
	)
	received := make(chan struct{}, 8)
	client.OnDepthUpdate(func(u domain.DepthUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
		received <- struct{}{}
	})
	client.OnAggTrade(func(tr domain.AggTrade) {
		mu.Lock()
		trades = append(trades, tr)
		mu.Unlock()
		received <- struct{}{}
	})
	client.OnMalformed(func([]byte, error) {
		mu.Lock()
		malformed++
		mu.Unlock()
		received <- struct{}{}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	listenErr := make(chan error, 1)
	go func() { listenErr <- client.Listen(ctx) }()

	for i := 0; i < len(frames); i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("timed out waiting for frames")
		}
	}
	cancel()
	<-listenErr
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 1)
	assert.Equal(t, uint64(2), updates[0].FinalUpdateID)
	require.Len(t, trades, 2)
	assert.Equal(t, uint64(7), trades[0].TradeID)
	assert.True(t, trades[1].BuyerIsMaker)
	assert.Equal(t, 1, malformed)
}
