// Package publish streams persisted statements to Kafka so downstream
// consumers can follow dataset updates without polling the database.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/segmentio/kafka-go"

	"github.com/datasink-io/datasink/internal/ingest"
)

// messageWriter is the part of kafka.Writer this package uses, extracted
// so tests can substitute an in-memory writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Compile-time check that the real writer satisfies the interface.
var _ messageWriter = (*kafka.Writer)(nil)

// KafkaPublisher writes each flushed statement as a JSON message keyed by
// entity ID, so statements for one entity land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// Interface compliance.
var _ ingest.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given configuration.
func NewKafkaPublisher(cfg *Config) (*KafkaPublisher, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaPublisher{
		writer: writer,
		topic:  cfg.Topic,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "kafka-publisher"),
	}, nil
}

// Publish writes one message per statement. An error means none or only
// part of the batch was delivered; callers treat delivery as best-effort.
func (p *KafkaPublisher) Publish(ctx context.Context, statements []*ingest.Statement) error {
	if len(statements) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, len(statements))

	for _, stmt := range statements {
		payload, err := json.Marshal(stmt)
		if err != nil {
			return fmt.Errorf("failed to encode statement %s/%s: %w", stmt.EntityID, stmt.Prop, err)
		}

		messages = append(messages, kafka.Message{
			Key:   []byte(stmt.Dataset + ":" + stmt.EntityID),
			Value: payload,
		})
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to publish %d statements to %s: %w", len(messages), p.topic, err)
	}

	p.logger.Debug("Published statements",
		"topic", p.topic,
		"count", len(messages),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
