// Package publish emits computed pass results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/star/passwatch/internal/metrics"
)

var ErrNoBrokers = errors.New("publish: no kafka brokers configured")

// MessageWriter is the subset of *kafka.Writer the Publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds Kafka producer settings.
type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// Publisher writes JSON-encoded values keyed by object.
type Publisher struct {
	w      MessageWriter
	logger *slog.Logger
}

// New creates a Publisher backed by a kafka-go writer. Messages with the
// same key land on the same partition.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if cfg.Topic == "" {
		return nil, errors.New("publish: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka publisher configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
	)
	return NewWithWriter(w, logger), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, logger *slog.Logger) *Publisher {
	return &Publisher{w: w, logger: logger}
}

// Publish encodes value as JSON and writes it under key.
func (p *Publisher) Publish(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		metrics.IncPublish(err)
		return fmt.Errorf("encoding message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}

	err = p.w.WriteMessages(ctx, msg)
	metrics.IncPublish(err)
	if err != nil {
		return fmt.Errorf("writing message %q: %w", key, err)
	}
	p.logger.Debug("published pass result", "key", key, "bytes", len(body))
	return nil
}

// Close flushes pending messages and releases the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
