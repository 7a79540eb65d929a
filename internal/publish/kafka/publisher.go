// Package kafka fans captured order book snapshots out to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/depthwatch/internal/domain"
	"github.com/alanyoungcy/depthwatch/internal/store/badger"
)

// Config configures the snapshot producer.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes each snapshot keyed by symbol so a partition sees one
// symbol's snapshots in order. Values use the time-series record encoding.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher creates an async Publisher. Delivery failures are reported
// through the logger since async writes return before the broker acks.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	logger = logger.With(slog.String("component", "kafka_publisher"), slog.String("topic", cfg.Topic))

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequireOne,
		Async:        true,
		Completion: func(msgs []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("snapshot delivery failed",
					slog.Int("messages", len(msgs)),
					slog.String("error", err.Error()),
				)
			}
		},
	}
	return &Publisher{writer: w, topic: cfg.Topic, logger: logger}, nil
}

// PublishSnapshot enqueues one snapshot.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	msg := kafkago.Message{
		Key:   []byte(snap.Symbol),
		Value: badger.EncodeSnapshot(snap),
		Time:  snap.Timestamp,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/x-depthwatch-snapshot")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: publish %s: %w", snap.Symbol, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
