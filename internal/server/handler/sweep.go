package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// SweepHandler lets operators run the retention sweeper ahead of its
// schedule.
type SweepHandler struct {
	logger *slog.Logger
	sweeps chan<- struct{}
	now    func() time.Time
}

// NewSweepHandler returns a handler that signals sweeps on ch. A nil ch
// means no sweeper runs in this process.
func NewSweepHandler(ch chan<- struct{}, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{logger: logger, sweeps: ch, now: time.Now}
}

// TriggerSweep queues one sweep. A request made while another is still
// pending coalesces with it and reports queued=false.
// POST /api/pipeline/sweep
func (h *SweepHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeps == nil {
		writeError(w, http.StatusServiceUnavailable, "retention sweeper not running")
		return
	}
	queued := true
	select {
	case h.sweeps <- struct{}{}:
	default:
		queued = false
	}
	h.logger.InfoContext(r.Context(), "sweep requested", slog.Bool("queued", queued))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":       queued,
		"requested_at": h.now().UTC().Format(time.RFC3339),
	})
}
