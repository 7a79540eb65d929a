package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

const maxEventLimit = 1000

// EventsHandler serves the event journal.
type EventsHandler struct {
	journal domain.Journal
	logger  *slog.Logger
	now     func() time.Time
}

// NewEventsHandler creates an EventsHandler reading from journal.
func NewEventsHandler(journal domain.Journal, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{journal: journal, logger: logger, now: time.Now}
}

// ListEvents returns journal entries newest first.
// GET /api/events?symbol=BTCUSDT&since=1h&limit=100
//
// since is either an RFC 3339 timestamp or a duration back from now.
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var symbol string
	if raw := q.Get("symbol"); raw != "" {
		s, err := domain.NormalizeSymbol(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		symbol = s
	}

	since, err := h.parseSince(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = min(limit, maxEventLimit)
	}

	events, err := h.journal.List(r.Context(), symbol, since, limit)
	if err != nil {
		writeQueryError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *EventsHandler) parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid since %q", raw)
	}
	return h.now().Add(-d), nil
}
