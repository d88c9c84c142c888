package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pressassoc/dateline/internal/resilience"
)

// fastRetry keeps test retries from sleeping on real backoff schedules.
func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     1.5,
	}
}

func TestHTTPFetcher_DownloadToFile(t *testing.T) {
	payload := "9434044\tZurich\tZurich\t47.36667\t8.55\tP\tPPLA\tCH\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(payload)) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(2)})
	dest := filepath.Join(t.TempDir(), "CH.txt")

	n, err := f.DownloadToFile(context.Background(), srv.URL+"/export/dump/CH.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("dump")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(3)})
	dest := filepath.Join(t.TempDir(), "out.zip")

	n, err := f.DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_RetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(3)})
	dest := filepath.Join(t.TempDir(), "out.txt")

	_, err := f.DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcher_NotFoundFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(3)})
	dest := filepath.Join(t.TempDir(), "missing.zip")

	_, err := f.DownloadToFile(context.Background(), srv.URL+"/export/dump/XX.zip", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load(), "client errors are permanent")
}

func TestHTTPFetcher_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(2)})
	dest := filepath.Join(t.TempDir(), "out.txt")

	_, err := f.DownloadToFile(context.Background(), srv.URL, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcher_UserAgent(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.txt")
	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(1)})
	_, err := f.DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, agent.Load())

	custom := NewHTTPFetcher(HTTPOptions{UserAgent: "atlas-qa/2", Retry: fastRetry(1)})
	_, err = custom.DownloadToFile(context.Background(), srv.URL, dest)
	require.NoError(t, err)
	assert.Equal(t, "atlas-qa/2", agent.Load())
}

func TestHTTPFetcher_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	deadURL := srv.URL
	srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(2)})
	_, err := f.DownloadToFile(context.Background(), deadURL, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), deadURL)
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(3)})
	_, err := f.DownloadToFile(ctx, srv.URL, filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load(), "no request once the context is gone")
}

func TestHTTPFetcher_BadDestination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{Retry: fastRetry(1)})
	_, err := f.DownloadToFile(context.Background(), srv.URL, filepath.Join(t.TempDir(), "no", "such", "dir", "f.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestNewHTTPFetcher_Defaults(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})
	assert.Equal(t, defaultUserAgent, f.agent)
	assert.Equal(t, 30*time.Second, f.client.Timeout)
	assert.NotNil(t, f.retry.OnRetry)
}

func TestHTTPFetcher_HostLimiters(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{})

	geonames := f.limiter("https://download.geonames.org/export/dump/allCountries.zip")
	assert.Equal(t, rate.Limit(2), geonames.Limit())
	assert.Same(t, geonames, f.limiter("https://download.geonames.org/export/dump/alternateNamesV2.zip"),
		"downloads from one host share a limiter")

	other := f.limiter("https://example.org/boundaries.zip")
	assert.Equal(t, defaultHostRate, other.Limit())

	custom := NewHTTPFetcher(HTTPOptions{HostRates: map[string]rate.Limit{"mirror.internal": 1}})
	assert.Equal(t, rate.Limit(1), custom.limiter("http://mirror.internal/dump.zip").Limit())
}

func TestBurstFor(t *testing.T) {
	assert.Equal(t, 1, burstFor(0.5))
	assert.Equal(t, 2, burstFor(2))
	assert.Equal(t, 100, burstFor(500))
	assert.Equal(t, 100, burstFor(rate.Inf))
}
