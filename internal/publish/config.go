package publish

import (
	"strings"
	"time"

	"github.com/datasink-io/datasink/internal/config"
)

const (
	defaultTopic        = "datasink.statements"
	defaultBatchTimeout = 100 * time.Millisecond
	defaultWriteTimeout = 10 * time.Second
)

// Config holds Kafka publisher configuration.
type Config struct {
	// Brokers is the list of bootstrap broker addresses. An empty list
	// disables publishing.
	Brokers []string

	// Topic receives one message per persisted statement.
	Topic string

	// BatchTimeout bounds how long the writer buffers before flushing
	// a partial batch.
	BatchTimeout time.Duration

	// WriteTimeout bounds a single broker write.
	WriteTimeout time.Duration
}

// LoadConfig loads publisher configuration from environment variables.
// DATASINK_KAFKA_BROKERS is a comma-separated list; leaving it unset
// disables the publisher.
func LoadConfig() *Config {
	return &Config{
		Brokers:      splitBrokers(config.GetEnvStr("DATASINK_KAFKA_BROKERS", "")),
		Topic:        config.GetEnvStr("DATASINK_KAFKA_TOPIC", defaultTopic),
		BatchTimeout: config.GetEnvDuration("DATASINK_KAFKA_BATCH_TIMEOUT", defaultBatchTimeout),
		WriteTimeout: config.GetEnvDuration("DATASINK_KAFKA_WRITE_TIMEOUT", defaultWriteTimeout),
	}
}

// Enabled reports whether a publisher should be constructed at all.
func (c *Config) Enabled() bool {
	return len(c.Brokers) > 0
}

func splitBrokers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var brokers []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}

	return brokers
}
