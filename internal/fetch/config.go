package fetch

import (
	"time"

	"github.com/datasink-io/datasink/internal/config"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultMaxRetries        = 3
	defaultBackoff           = 500 * time.Millisecond
	defaultRequestsPerSecond = 2
	defaultBurst             = 4
	defaultUserAgent         = "datasink/1.0"
)

// Config holds download client settings.
type Config struct {
	Timeout           time.Duration // Per-request timeout at the http.Client level
	MaxRetries        int           // Retry attempts after the initial request
	Backoff           time.Duration // Base wait between retries, grows linearly per attempt
	RequestsPerSecond int           // Token bucket refill rate across all requests
	Burst             int           // Token bucket capacity
	UserAgent         string
}

// LoadConfig loads download client settings from environment variables with
// fallback to defaults.
func LoadConfig() Config {
	return Config{
		Timeout:           config.GetEnvDuration("DATASINK_FETCH_TIMEOUT", defaultTimeout),
		MaxRetries:        config.GetEnvInt("DATASINK_FETCH_MAX_RETRIES", defaultMaxRetries),
		Backoff:           config.GetEnvDuration("DATASINK_FETCH_BACKOFF", defaultBackoff),
		RequestsPerSecond: config.GetEnvInt("DATASINK_FETCH_RPS", defaultRequestsPerSecond),
		Burst:             config.GetEnvInt("DATASINK_FETCH_BURST", defaultBurst),
		UserAgent:         config.GetEnvStr("DATASINK_FETCH_USER_AGENT", defaultUserAgent),
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}

	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}

	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}

	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}
