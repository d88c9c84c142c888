package fetcher

import (
	"context"
	"io"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pressassoc/dateline/internal/resilience"
)

const defaultUserAgent = "dateline/1.0 (gazetteer builder)"

// defaultHostRate applies to hosts without an entry in the politeness table.
const defaultHostRate rate.Limit = 10

// defaultHostRates holds per-host politeness limits. The GeoNames download
// server asks bulk consumers to stay around a couple of requests per second;
// the Natural Earth mirrors tolerate more.
var defaultHostRates = map[string]rate.Limit{
	"download.geonames.org":         2,
	"naturalearth.s3.amazonaws.com": 5,
	"www.naturalearthdata.com":      5,
}

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration // covers the full request including body read, default 30s

	// Retry controls the backoff schedule for failed requests. The zero
	// value uses the resilience package defaults.
	Retry resilience.RetryConfig

	// HostRates overrides or extends the per-host politeness limits.
	HostRates map[string]rate.Limit
}

// HTTPFetcher downloads dataset files over HTTP with per-host rate limiting
// and retries on transient failures.
type HTTPFetcher struct {
	client *http.Client
	agent  string
	retry  resilience.RetryConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rates    map[string]rate.Limit
}

// NewHTTPFetcher creates an HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("fetcher", "http download")
	}

	rates := make(map[string]rate.Limit, len(defaultHostRates)+len(opts.HostRates))
	maps.Copy(rates, defaultHostRates)
	maps.Copy(rates, opts.HostRates)

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		agent:    opts.UserAgent,
		retry:    retry,
		limiters: make(map[string]*rate.Limiter),
		rates:    rates,
	}
}

// DownloadToFile fetches the URL into dest and reports bytes written.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL, dest string) (int64, error) {
	body, err := f.fetch(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	n, err := saveStream(body, dest)
	if err != nil {
		return n, err
	}
	zap.L().Debug("fetcher: downloaded",
		zap.String("url", rawURL),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// fetch performs a GET with retries. Rate-limit and server-side statuses are
// retried on the resilience backoff schedule; client errors such as 404 fail
// immediately. The caller owns the returned body.
func (f *HTTPFetcher) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	lim := f.limiter(rawURL)
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (io.ReadCloser, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: build request for %s", rawURL)
		}
		req.Header.Set("User-Agent", f.agent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
		}
		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		_ = resp.Body.Close()
		statusErr := eris.Errorf("fetcher: %s returned %s", rawURL, resp.Status)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	})
}

// limiter returns the rate limiter for the URL's host, creating it on first
// use. Limiters are shared across requests to the same host so concurrent
// downloads still respect the mirror's limit.
func (f *HTTPFetcher) limiter(rawURL string) *rate.Limiter {
	var host string
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	r, ok := f.rates[host]
	if !ok {
		r = defaultHostRate
	}
	lim := rate.NewLimiter(r, burstFor(r))
	f.limiters[host] = lim
	return lim
}

func burstFor(r rate.Limit) int {
	if r == rate.Inf || r > 100 {
		return 100
	}
	if r < 1 {
		return 1
	}
	return int(r)
}
