package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/report"
)

// Reports generates market reports.
type Reports interface {
	Generate(ctx context.Context, symbol string, opts report.Options) (report.Report, error)
}

// ReportHandler serves the unified market report.
type ReportHandler struct {
	reports Reports
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler.
func NewReportHandler(reports Reports, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// Market returns the report as JSON, or as raw markdown with
// format=markdown.
// GET /api/report/{symbol}?sections=orderbook_metrics,order_flow&window=24h
func (h *ReportHandler) Market(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 24*time.Hour)
	if err != nil {
		writeQueryError(w, r, h.logger, "generate report", err)
		return
	}
	opts := report.Options{VolumeWindow: window}
	if v := r.URL.Query().Get("sections"); v != "" {
		opts.Sections = strings.Split(v, ",")
	}

	rep, err := h.reports.Generate(r.Context(), pathParam(r, "symbol"), opts)
	if err != nil {
		writeQueryError(w, r, h.logger, "generate report", err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "markdown") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(rep.Markdown))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
