package publish

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasink-io/datasink/internal/ingest"
)

type capturingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.messages = append(w.messages, msgs...)

	return nil
}

func (w *capturingWriter) Close() error {
	w.closed = true

	return nil
}

func newTestPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		topic:  "datasink.statements",
		logger: slog.New(slog.DiscardHandler),
	}
}

func testStatement(entityID, prop, value string) *ingest.Statement {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	return &ingest.Statement{
		Dataset:   "us_bis_denied",
		EntityID:  entityID,
		Prop:      prop,
		Value:     value,
		Schema:    "LegalEntity",
		FirstSeen: now,
		LastSeen:  now,
	}
}

func TestKafkaPublisherPublish(t *testing.T) {
	writer := &capturingWriter{}
	publisher := newTestPublisher(writer)

	statements := []*ingest.Statement{
		testStatement("ent-1", "name", "ACME Export Ltd"),
		testStatement("ent-1", "country", "us"),
		testStatement("ent-2", "name", "Other Corp"),
	}

	err := publisher.Publish(context.Background(), statements)
	require.NoError(t, err)
	require.Len(t, writer.messages, 3)

	// Statements for the same entity share a partition key.
	assert.Equal(t, writer.messages[0].Key, writer.messages[1].Key)
	assert.NotEqual(t, writer.messages[0].Key, writer.messages[2].Key)
	assert.Equal(t, "us_bis_denied:ent-1", string(writer.messages[0].Key))

	var decoded ingest.Statement
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, "name", decoded.Prop)
	assert.Equal(t, "ACME Export Ltd", decoded.Value)
}

func TestKafkaPublisherPublishEmpty(t *testing.T) {
	writer := &capturingWriter{}
	publisher := newTestPublisher(writer)

	require.NoError(t, publisher.Publish(context.Background(), nil))
	assert.Empty(t, writer.messages)
}

func TestKafkaPublisherPublishWriteError(t *testing.T) {
	wantErr := errors.New("broker unavailable")
	publisher := newTestPublisher(&capturingWriter{err: wantErr})

	err := publisher.Publish(context.Background(), []*ingest.Statement{
		testStatement("ent-1", "name", "ACME Export Ltd"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestKafkaPublisherClose(t *testing.T) {
	writer := &capturingWriter{}
	publisher := newTestPublisher(writer)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DATASINK_KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("DATASINK_KAFKA_TOPIC", "custom.topic")

	cfg := LoadConfig()

	assert.True(t, cfg.Enabled())
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Brokers)
	assert.Equal(t, "custom.topic", cfg.Topic)
}

func TestLoadConfigDisabledByDefault(t *testing.T) {
	t.Setenv("DATASINK_KAFKA_BROKERS", "")

	cfg := LoadConfig()

	assert.False(t, cfg.Enabled())

	_, err := NewKafkaPublisher(cfg)
	assert.Error(t, err)
}
