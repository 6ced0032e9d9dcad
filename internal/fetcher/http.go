package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/medfeed/internal/config"
	"github.com/IshaanNene/medfeed/internal/guard"
	"github.com/IshaanNene/medfeed/internal/observability"
	"github.com/IshaanNene/medfeed/internal/types"
)

// HTTPFetcher implements Fetcher using net/http. Every request is checked by
// the guard before it leaves, again at dial time and on every redirect.
type HTTPFetcher struct {
	client     *http.Client
	cfg        *config.FetchConfig
	guard      *guard.Guard
	limiter    *HostLimiter
	backoff    Backoff
	metrics    *observability.Metrics
	logger     *slog.Logger
	userAgents []string
	uaIndex    atomic.Int64
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.Config, g *guard.Guard, metrics *observability.Metrics, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		// No Proxy: a proxy would make the dial-time address check meaningless.
		DialContext:         guardedDialer(g).DialContext,
		MaxIdleConns:        cfg.Fetch.MaxIdleConns,
		MaxIdleConnsPerHost: max(1, cfg.Fetch.MaxIdleConns/10),
		IdleConnTimeout:     cfg.Fetch.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     randomTLSConfig(),
		ForceAttemptHTTP2:   true,
		DisableCompression:  true, // We handle decompression ourselves (including brotli)
	}

	client := &http.Client{
		Transport:     &browserHeaders{inner: transport},
		Jar:           jar,
		CheckRedirect: g.CheckRedirect(cfg.Fetch.MaxRedirects),
	}

	userAgents := cfg.Fetch.UserAgents
	if len(userAgents) == 0 {
		userAgents = config.DefaultUserAgents
	}

	return &HTTPFetcher{
		client:  client,
		cfg:     &cfg.Fetch,
		guard:   g,
		limiter: NewHostLimiter(cfg.Fetch.PerHostRPS),
		backoff: Backoff{
			Base:   cfg.Fetch.RetryDelay,
			Max:    cfg.Fetch.MaxRetryDelay,
			Jitter: cfg.Fetch.RetryDelay / 4,
		},
		metrics:    metrics,
		logger:     logger.With("component", "http_fetcher"),
		userAgents: userAgents,
	}, nil
}

func guardedDialer(g *guard.Guard) *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.DialControl,
	}
}

// NewGuardedClient returns a plain client whose dials and redirects are
// checked by g. The browser renderers load every request through it so
// Chromium never resolves or connects on its own.
func NewGuardedClient(g *guard.Guard, maxRedirects int, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         guardedDialer(g).DialContext,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		CheckRedirect: g.CheckRedirect(maxRedirects),
		Timeout:       timeout,
	}
}

// Fetch executes a GET with the configured retry budget. It returns a
// *types.ValidationError, *types.HTTPError or *types.NetworkError on failure.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	start := time.Now()
	rawURL := req.URLString()

	if req.URL == nil {
		return nil, &types.ValidationError{URL: rawURL, Reason: guard.ReasonMalformed, Err: types.ErrInvalidURL}
	}
	if err := f.guard.ValidateURL(ctx, req.URL); err != nil {
		f.metrics.ObserveFetch(string(req.Kind), types.KindValidation, 0, time.Since(start))
		f.logger.Warn("url rejected", "url", rawURL, "error", err)
		return nil, err
	}

	if err := f.limiter.Wait(ctx, req.Domain()); err != nil {
		return nil, &types.NetworkError{URL: rawURL, Attempts: 0, Err: err}
	}

	retries := req.MaxRetries
	if retries < 0 {
		retries = f.cfg.MaxRetries
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}

	var (
		lastErr  error
		attempts int
	)
	for attempts < retries+1 {
		attempts++
		resp, err := f.attempt(ctx, req, timeout)
		if err == nil {
			resp.Attempts = attempts
			f.metrics.ObserveFetch(string(req.Kind), "ok", attempts, time.Since(start))
			f.logger.Debug("fetch complete",
				"url", rawURL,
				"status", resp.StatusCode,
				"size", len(resp.Body),
				"attempts", attempts,
				"duration", resp.FetchDuration,
			)
			return resp, nil
		}

		var httpErr *types.HTTPError
		if errors.As(err, &httpErr) {
			f.metrics.ObserveFetch(string(req.Kind), types.KindHTTP, attempts, time.Since(start))
			return nil, httpErr
		}
		var valErr *types.ValidationError
		if errors.As(err, &valErr) {
			f.metrics.ObserveFetch(string(req.Kind), types.KindValidation, attempts, time.Since(start))
			return nil, valErr
		}

		lastErr = err
		if !shouldRetry(ctx, err) || attempts > retries {
			break
		}

		delay := f.backoff.Delay(attempts - 1)
		f.logger.Debug("retrying fetch",
			"url", rawURL,
			"attempt", attempts,
			"delay", delay,
			"error", err,
		)
		if err := sleepCtx(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	f.metrics.ObserveFetch(string(req.Kind), types.KindNetwork, attempts, time.Since(start))
	return nil, &types.NetworkError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// attempt performs a single GET under its own deadline.
func (f *HTTPFetcher) attempt(ctx context.Context, req *types.Request, timeout time.Duration) (*types.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URLString(), nil)
	if err != nil {
		return nil, &types.ValidationError{URL: req.URLString(), Reason: guard.ReasonMalformed, Err: err}
	}
	httpReq.Header.Set("User-Agent", f.nextUserAgent())
	httpReq.Header.Set("Accept", acceptFor(req.Kind))
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1024))
		httpErr := &types.HTTPError{URL: req.URLString(), StatusCode: httpResp.StatusCode}
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == http.StatusServiceUnavailable {
			httpErr.RetryAfter = parseRetryAfter(httpResp.Header.Get("Retry-After"))
		}
		return nil, httpErr
	}

	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}

	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &bodyReadError{err: err}
	}
	if gz, ok := reader.(*gzip.Reader); ok {
		defer gz.Close()
	}
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &bodyReadError{err: err}
	}

	return types.NewResponse(req, httpResp, body, time.Since(start)), nil
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// Type returns the fetcher type identifier.
func (f *HTTPFetcher) Type() string {
	return "http"
}

// nextUserAgent returns the next User-Agent in rotation.
func (f *HTTPFetcher) nextUserAgent() string {
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}
