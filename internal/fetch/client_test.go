package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c := NewClient(Config{MaxRetries: 2, RequestsPerSecond: 1000, Burst: 1000})
	c.sleep = func(time.Duration) {}

	return c
}

func TestDownload_WritesFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Name\tCountry\nExample Corp\tUS\n"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "dpl.tsv")
	client := newTestClient(t)

	err := client.Download(context.Background(), dest, server.URL)

	require.NoError(t, err)

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "Name\tCountry\nExample Corp\tUS\n", string(content))

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "temporary file must not survive a successful download")
}

func TestDownload_StatusFailureLeavesNoFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "dpl.tsv")
	client := newTestClient(t)

	err := client.Download(context.Background(), dest, server.URL)

	require.Error(t, err)

	var fetchErr *Error

	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, KindStatus, fetchErr.Kind)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	assert.Equal(t, server.URL, fetchErr.URL)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "failed download must not leave a destination file")
}

func TestDownload_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "dpl.tsv")
	client := newTestClient(t)

	err := client.Download(context.Background(), dest, server.URL)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestDownload_ServerErrorRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "data.bin")
	client := newTestClient(t)

	err := client.Download(context.Background(), dest, server.URL)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownload_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "data.bin")
	client := newTestClient(t)

	err := client.Download(ctx, dest, server.URL)

	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, defaultUserAgent, cfg.UserAgent)
}
