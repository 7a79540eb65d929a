// Package notify delivers operator alerts to chat webhooks and the pub/sub
// bus. Alerts are filtered by event type so operators receive only what they
// asked for.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/depthwatch/internal/domain"
)

// AnomalyChannel is the pub/sub channel anomalies are published on.
const AnomalyChannel = "ch:anomaly"

// Alert is one rendered notification.
type Alert struct {
	Event    string
	Title    string
	Message  string
	Severity domain.Severity
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Publisher pushes raw payloads onto a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier dispatches alerts to every Sender whose event type is allowed
// and, when configured, publishes anomalies on the bus.
type Notifier struct {
	senders   []Sender
	events    map[string]bool // allowed event types
	publisher Publisher
	logger    *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in events are forwarded; an empty list allows
// every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithPublisher also publishes every anomaly as JSON on AnomalyChannel,
// regardless of the event filter.
func (n *Notifier) WithPublisher(p Publisher) *Notifier {
	n.publisher = p
	return n
}

// Notify sends an alert to all senders if its event type is allowed.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if len(n.events) > 0 && !n.events[a.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", a.Event))
		return nil
	}
	return n.dispatch(ctx, a)
}

// NotifyAnomaly renders and delivers one anomaly. The event type is
// "anomaly_" followed by the lower-cased severity.
func (n *Notifier) NotifyAnomaly(ctx context.Context, a domain.Anomaly) error {
	var errs []error
	if n.publisher != nil {
		if payload, err := json.Marshal(a); err == nil {
			if err := n.publisher.Publish(ctx, AnomalyChannel, payload); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := n.Notify(ctx, anomalyAlert(a)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func anomalyAlert(a domain.Anomaly) Alert {
	var detail string
	switch {
	case a.QuoteStuffing != nil:
		detail = fmt.Sprintf("update rate %.0f/s, fill rate %.1f%%", a.QuoteStuffing.UpdateRate, a.QuoteStuffing.FillRate*100)
	case a.Iceberg != nil:
		detail = fmt.Sprintf("%s %g refilled %d times (%.1fx median)", a.Iceberg.Side, a.Iceberg.PriceLevel, a.Iceberg.RefillCount, a.Iceberg.RefillRateMultiplier)
	case a.FlashCrash != nil:
		detail = fmt.Sprintf("depth -%.0f%%, spread %.1fx, cancels %.0f%%", a.FlashCrash.DepthLossPct, a.FlashCrash.SpreadMultiplier, a.FlashCrash.CancellationRate)
	}
	msg := fmt.Sprintf("%s\nconfidence %.0f%%\n%s", detail, a.Confidence*100, a.Recommendation)
	return Alert{
		Event:    "anomaly_" + strings.ToLower(string(a.Severity)),
		Title:    fmt.Sprintf("[%s] %s %s", a.Severity, a.Symbol, a.Type),
		Message:  strings.TrimPrefix(msg, "\n"),
		Severity: a.Severity,
	}
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", a.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
