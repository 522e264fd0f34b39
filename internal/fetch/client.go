// Package fetch downloads upstream source artifacts to local files.
//
// The client is the blocking fetch collaborator used by the run context: it
// owns retry/backoff and timeout policy, applies a token-bucket rate limit
// across all requests, and guarantees that a failed download never leaves a
// partial file at the destination path (content is written to a temporary
// file and atomically renamed into place).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Kind classifies a download failure.
type Kind string

const (
	// KindNetwork covers transport-level failures: DNS, connect, timeouts.
	KindNetwork Kind = "network"

	// KindStatus covers non-2xx HTTP responses.
	KindStatus Kind = "status"

	maxRedirects = 5
)

// Error is a structured download failure carrying the requested URL, the
// failure kind, and for status failures the HTTP status code.
type Error struct {
	URL        string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client performs rate-limited, retrying downloads to local files.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	maxRetries int
	backoff    time.Duration

	// sleep is injectable to make retry tests fast and deterministic.
	sleep func(time.Duration)
}

// NewClient constructs a Client from Config, applying defaults for zero values.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}

				return nil
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		sleep:      time.Sleep,
	}
}

// Download fetches url into dest. The body is streamed to dest+".part" and
// renamed into place only after the full body has been read, so dest either
// holds the complete artifact or does not exist. Transient network failures
// and 5xx responses are retried with linear backoff; 4xx responses are not.
func (c *Client) Download(ctx context.Context, dest, url string) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(time.Duration(attempt) * c.backoff)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = c.downloadOnce(ctx, dest, url)
		if lastErr == nil {
			return nil
		}

		// Context cancellation and client errors are not retryable.
		if ctx.Err() != nil {
			return lastErr
		}

		var fetchErr *Error
		if errors.As(lastErr, &fetchErr) && fetchErr.Kind == KindStatus && fetchErr.StatusCode < http.StatusInternalServerError {
			return lastErr
		}
	}

	return lastErr
}

func (c *Client) downloadOnce(ctx context.Context, dest, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Error{URL: url, Kind: KindNetwork, Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{URL: url, Kind: KindNetwork, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &Error{URL: url, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	return writeAtomic(dest, resp.Body, url)
}

// writeAtomic streams body into dest via a temporary sibling file. The
// temporary file is removed on any failure.
func writeAtomic(dest string, body io.Reader, url string) error {
	tmp := dest + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)

		return &Error{URL: url, Kind: KindNetwork, Err: err}
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to move %s into place: %w", tmp, err)
	}

	return nil
}
