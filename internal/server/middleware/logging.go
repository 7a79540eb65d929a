package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/telemetry"
)

// Logging logs one line per request and records it in the HTTP metrics.
// Requests are labelled by their route pattern, not the raw path, so symbols
// in the URL do not widen the label set.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(began)

			route := routeLabel(r)
			telemetry.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			telemetry.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			logger.LogAttrs(r.Context(), levelFor(rec.status), "request served",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int64("bytes", rec.written),
				slog.Duration("took", elapsed),
				slog.String("client", clientIP(r)),
			)
		})
	}
}

func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case status == http.StatusNotFound, status == http.StatusSwitchingProtocols:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// recorder remembers the first status code and counts body bytes.
type recorder struct {
	http.ResponseWriter
	status  int
	written int64
	sent    bool
}

func (rec *recorder) WriteHeader(code int) {
	if !rec.sent {
		rec.status, rec.sent = code, true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	rec.sent = true
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rec *recorder) Unwrap() http.ResponseWriter { return rec.ResponseWriter }

// Hijack hands the connection to the WebSocket upgrader.
func (rec *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: underlying writer cannot be hijacked")
	}
	rec.status, rec.sent = http.StatusSwitchingProtocols, true
	return hj.Hijack()
}
