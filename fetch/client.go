// Package fetch implements the HTTP client shared by all site adapters:
// per-origin sessions, a global in-flight bound, request jitter and
// retry with capped exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-food/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("github.com/aluiziolira/go-scrape-food/fetch")

// Options configures a Client. Every field is required to be set by the
// caller; New rejects incoherent values instead of guessing.
type Options struct {
	// MaxConcurrency bounds in-flight HTTP exchanges across the whole client.
	MaxConcurrency int
	// MinDelay and MaxDelay bound the random pause before each attempt.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Timeout applies to each attempt.
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxBackoff  time.Duration
	// RequestsPerSecond paces each origin; zero disables pacing.
	RequestsPerSecond float64
	Proxies           []string
	HeaderProfiles    []HeaderProfile
	// Transport overrides the HTTP transport of every session.
	Transport http.RoundTripper
}

// Validate checks the options for coherence.
func (o Options) Validate() error {
	if o.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if o.MinDelay < 0 || o.MaxDelay < 0 {
		return fmt.Errorf("request delays cannot be negative")
	}
	if o.MaxDelay < o.MinDelay {
		return fmt.Errorf("max delay (%s) cannot be below min delay (%s)", o.MaxDelay, o.MinDelay)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if o.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if o.BaseDelay < 0 || o.MaxBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if o.MaxBackoff < o.BaseDelay {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", o.BaseDelay, o.MaxBackoff)
	}
	if o.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if len(o.HeaderProfiles) == 0 {
		return fmt.Errorf("at least one header profile is required")
	}
	for i, p := range o.HeaderProfiles {
		if p.UserAgent == "" {
			return fmt.Errorf("header profile %d has no user agent", i)
		}
	}
	return nil
}

// Response is a successful HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	URL        string
	Attempts   int
}

// Stats is a snapshot of client counters.
type Stats struct {
	Requests     int64
	Retries      int64
	Failures     int64
	PeakInFlight int64
	Sessions     int
}

// Client issues requests on behalf of site adapters. It is safe for
// concurrent use.
type Client struct {
	opts     Options
	sem      *semaphore.Weighted
	sessions *sessionCache
	metrics  *metrics.Metrics

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	requests atomic.Int64
	retries  atomic.Int64
	failures atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New builds a client from opts. m may be nil.
func New(opts Options, m *metrics.Metrics) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("fetch options: %w", err)
	}
	c := &Client{
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		metrics: m,
		sleep:   sleepContext,
	}
	c.sessions = newSessionCache(c.newSession)
	return c, nil
}

// Get is a convenience wrapper for Fetch with GET and no body.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Fetch(ctx, http.MethodGet, rawURL, nil, nil)
}

// Fetch performs method on rawURL. Transient failures (429, 5xx, timeouts,
// connection errors) are retried with capped exponential backoff; other 4xx
// responses fail immediately with KindRejected.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*Response, error) {
	ctx, span := tracer.Start(ctx, "fetch.Fetch", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", rawURL),
	))
	defer span.End()

	res, err := c.fetch(ctx, method, rawURL, headers, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", res.StatusCode),
		attribute.Int("fetch.attempts", res.Attempts),
	)
	return res, nil
}

func (c *Client) fetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if err == nil {
			err = errors.New("url must be absolute http(s)")
		}
		c.failures.Add(1)
		return nil, &FetchError{Kind: KindRejected, URL: rawURL, Err: err}
	}

	sess, err := c.sessions.get(u.Scheme + "://" + u.Host)
	if err != nil {
		return nil, err
	}

	state := newRetryState(c.opts.MaxAttempts, c.opts.BaseDelay, c.opts.MaxBackoff)
	var (
		lastKind   Kind
		lastStatus int
		lastErr    error
	)
	for state.begin() {
		if err := c.sleep(ctx, c.jitter()); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if sess.limiter != nil {
			if err := sess.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}

		res, err := c.exchange(ctx, sess, method, rawURL, headers, body)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}

		var retryAfter time.Duration
		if err != nil {
			lastKind, lastStatus, lastErr = classifyError(err), 0, err
		} else {
			kind := classifyStatus(res.StatusCode)
			if kind == 0 {
				res.Attempts = state.attempt
				return res, nil
			}
			lastKind, lastStatus, lastErr = kind, res.StatusCode, nil
			retryAfter = parseRetryAfter(res.Header)
		}

		if !lastKind.Retryable() || state.exhausted() {
			break
		}

		delay := state.schedule(retryAfter)
		c.retries.Add(1)
		c.metrics.IncRetries(lastKind.String())
		slog.Warn("retrying request",
			slog.String("url", rawURL),
			slog.Int("attempt", state.attempt),
			slog.String("kind", lastKind.String()),
			slog.Int("status", lastStatus),
			slog.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}

	c.failures.Add(1)
	c.metrics.IncFetchError(lastKind.String())
	return nil, &FetchError{
		Kind:       lastKind,
		LastStatus: lastStatus,
		URL:        rawURL,
		Attempts:   state.attempt,
		Err:        lastErr,
	}
}

// exchange performs a single attempt while holding a concurrency slot.
func (c *Client) exchange(ctx context.Context, sess *session, method, rawURL string, headers http.Header, body []byte) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	c.metrics.AddInFlight(1)
	defer c.metrics.AddInFlight(-1)

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req := sess.client.R().SetContext(attemptCtx)
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	count := c.requests.Add(1)
	start := time.Now()
	resp, err := req.Execute(method, rawURL)
	c.metrics.ObserveDuration(time.Since(start))
	if count%50 == 0 {
		slog.Debug("fetch progress",
			slog.Int64("requests", count),
			slog.Int64("retries", c.retries.Load()),
			slog.String("url", rawURL),
		)
	}
	if err != nil {
		c.metrics.IncRequest("error")
		return nil, err
	}
	c.metrics.IncRequest(statusClass(resp.StatusCode()))

	// URL is where the exchange ended up after redirects.
	finalURL := rawURL
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		finalURL = raw.Request.URL.String()
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
		URL:        finalURL,
	}, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func (c *Client) jitter() time.Duration {
	span := c.opts.MaxDelay - c.opts.MinDelay
	if span <= 0 {
		return c.opts.MinDelay
	}
	return c.opts.MinDelay + rand.N(span+1)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:     c.requests.Load(),
		Retries:      c.retries.Load(),
		Failures:     c.failures.Load(),
		PeakInFlight: c.peak.Load(),
		Sessions:     c.sessions.len(),
	}
}

// SessionCount returns the number of live origin sessions.
func (c *Client) SessionCount() int {
	return c.sessions.len()
}

// Close drops every cached session and closes their idle connections. The
// client stays usable; new sessions are created on demand.
func (c *Client) Close() {
	c.sessions.reset()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
