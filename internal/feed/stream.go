// Package feed supervises upstream market-data streams: it keeps one stream
// connected, reconnecting with bounded exponential backoff, and gives up
// after too many consecutive failures.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// Stream is one upstream connection. *binance.StreamClient satisfies it.
type Stream interface {
	Connect(ctx context.Context) error
	// Listen blocks until the connection drops or ctx is cancelled.
	Listen(ctx context.Context) error
	Close() error
}

// StreamFactory builds a fresh, handler-wired Stream for every connection
// attempt.
type StreamFactory func() Stream

// Backoff is the reconnect policy.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// MaxAttempts is the number of consecutive failed attempts tolerated
	// before Run gives up. Zero means unlimited.
	MaxAttempts int
	// ResetAfter is how long a connection must stay up for the failure count
	// to reset.
	ResetAfter time.Duration
}

// DefaultBackoff is 1s doubling to 60s, ten attempts.
var DefaultBackoff = Backoff{
	Initial:     time.Second,
	Max:         60 * time.Second,
	MaxAttempts: 10,
	ResetAfter:  time.Minute,
}

// StateFunc observes connection state changes.
type StateFunc func(connected bool)

// Runner keeps one stream connected until ctx is cancelled or the backoff
// budget is exhausted.
type Runner struct {
	name    string
	factory StreamFactory
	backoff Backoff
	onState StateFunc
	logger  *slog.Logger

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner. name identifies the stream in logs.
func NewRunner(name string, factory StreamFactory, backoff Backoff, onState StateFunc, logger *slog.Logger) *Runner {
	if backoff.Initial <= 0 {
		backoff.Initial = DefaultBackoff.Initial
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = backoff.Initial
	}
	return &Runner{
		name:    name,
		factory: factory,
		backoff: backoff,
		onState: onState,
		logger:  logger.With(slog.String("component", "stream_runner"), slog.String("stream", name)),
		sleep:   sleepCtx,
	}
}

// Run connects and listens, reconnecting on disconnect. It returns ctx.Err()
// on cancellation and an error wrapping domain.ErrSymbolFailed once
// MaxAttempts consecutive attempts have failed.
func (r *Runner) Run(ctx context.Context) error {
	delay := r.backoff.Initial
	failures := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := time.Now()
		err := r.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if r.backoff.ResetAfter > 0 && time.Since(started) >= r.backoff.ResetAfter {
			failures = 0
			delay = r.backoff.Initial
		}
		failures++

		if r.backoff.MaxAttempts > 0 && failures >= r.backoff.MaxAttempts {
			r.logger.ErrorContext(ctx, "stream giving up",
				slog.Int("attempts", failures),
				slog.String("error", errString(err)),
			)
			return fmt.Errorf("feed: %s: %w after %d attempts: %v", r.name, domain.ErrSymbolFailed, failures, err)
		}

		r.logger.WarnContext(ctx, "stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}

		delay *= 2
		if delay > r.backoff.Max {
			delay = r.backoff.Max
		}
	}
}

func (r *Runner) runConnection(ctx context.Context) error {
	stream := r.factory()
	defer stream.Close()

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := stream.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}

	r.setState(true)
	defer r.setState(false)
	r.logger.InfoContext(ctx, "stream connected")

	err = stream.Listen(ctx)
	if err == nil {
		err = errors.New("stream closed")
	}
	return err
}

func (r *Runner) setState(connected bool) {
	if r.onState != nil {
		r.onState(connected)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
