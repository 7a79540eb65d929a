package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSender) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSender) Name() string { return "recording" }

type recordingPublisher struct {
	channel string
	payload []byte
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.channel = channel
	p.payload = payload
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func crashAnomaly() domain.Anomaly {
	return domain.Anomaly{
		ID:             "a-1",
		Symbol:         "BTCUSDT",
		Type:           domain.AnomalyFlashCrashRisk,
		Confidence:     0.9,
		Severity:       domain.SeverityCritical,
		Recommendation: "halt market orders",
		FlashCrash: &domain.FlashCrashDetail{
			DepthLossPct:     85,
			SpreadMultiplier: 12,
			CancellationRate: 90,
		},
	}
}

func TestNotifyAnomalyFiltersBySeverityEvent(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"anomaly_critical"}, quietLogger())

	require.NoError(t, n.NotifyAnomaly(context.Background(), crashAnomaly()))

	medium := crashAnomaly()
	medium.Severity = domain.SeverityMedium
	require.NoError(t, n.NotifyAnomaly(context.Background(), medium))

	require.Len(t, rec.alerts, 1)
	got := rec.alerts[0]
	assert.Equal(t, "anomaly_critical", got.Event)
	assert.Equal(t, "[Critical] BTCUSDT FlashCrashRisk", got.Title)
	assert.Contains(t, got.Message, "depth -85%")
	assert.Contains(t, got.Message, "confidence 90%")
}

func TestNotifyAnomalyPublishesRegardlessOfFilter(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(nil, []string{"anomaly_critical"}, quietLogger()).WithPublisher(pub)

	low := crashAnomaly()
	low.Severity = domain.SeverityLow
	require.NoError(t, n.NotifyAnomaly(context.Background(), low))

	assert.Equal(t, AnomalyChannel, pub.channel)
	var decoded domain.Anomaly
	require.NoError(t, json.Unmarshal(pub.payload, &decoded))
	assert.Equal(t, "a-1", decoded.ID)
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	failing := &recordingSender{err: errors.New("boom")}
	ok := &recordingSender{}
	n := NewNotifier([]Sender{failing, ok}, nil, quietLogger())

	err := n.Notify(context.Background(), Alert{Event: "x", Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.alerts, 1)
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var body map[string][]discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), Alert{
		Title:    "title",
		Message:  "msg",
		Severity: domain.SeverityHigh,
	})
	require.NoError(t, err)
	require.Len(t, body["embeds"], 1)
	assert.Equal(t, "title", body["embeds"][0].Title)
	assert.Equal(t, 0xF2A33A, body["embeds"][0].Color)
}

func TestTelegramSenderReportsHTTPFailure(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL+"/", "tok", "42").Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, "/bottok/sendMessage", path)
}
