// Package fetch provides the resilient HTTP client used for every downstream call.
//
// Each Call runs a small state machine: 2xx succeeds, 429 waits for the
// server's hint without spending a retry, 5xx and transport failures back off
// exponentially up to MaxRetries, and any other status fails at once.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/jonathan/scout-agent/internal/telemetry"
)

// DefaultTimeout is the default per-request HTTP timeout.
const DefaultTimeout = 60 * time.Second

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ScoutAgent/1.0)"

// maxBodyBytes bounds how much of a response is read into memory.
const maxBodyBytes = 16 << 20

// Policy configures retry behavior
type Policy struct {
	MaxRetries       int           `json:"max_retries" toml:"max_retries"`
	BaseDelay        time.Duration `json:"base_delay" toml:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay" toml:"max_delay"`
	MaxRateLimitWait time.Duration `json:"max_rate_limit_wait" toml:"max_rate_limit_wait"`
	Jitter           time.Duration `json:"jitter" toml:"jitter"`
	RateLimitBudget  int           `json:"rate_limit_budget" toml:"rate_limit_budget"` // max 429 waits per call, 0 = unlimited
}

// DefaultPolicy returns the retry policy used for both downstream services.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxRateLimitWait: 2 * time.Minute,
		Jitter:           500 * time.Millisecond,
	}
}

// Backoff returns min(MaxDelay, BaseDelay * 2^n).
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// RetryState tracks one call's progress through the retry policy.
type RetryState struct {
	Attempt        int           // transient failures retried so far
	RateLimitWaits int           // 429 responses waited out
	Requests       int           // HTTP requests sent
	Waited         time.Duration // cumulative wait
	LastKind       Kind
}

// Request describes one downstream call
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Response holds a successful downstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	State      RetryState
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client executes requests under a retry Policy
type Client struct {
	http      *http.Client
	policy    Policy
	userAgent string
	logger    *slog.Logger
	sleep     Sleeper
	now       func() time.Time
	jitter    func(time.Duration) time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSleeper replaces the wait function, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client with the given policy.
func NewClient(policy Policy, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		policy:    policy,
		userAgent: DefaultUserAgent,
		logger:    slog.Default(),
		sleep:     Sleep,
		now:       time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the client's retry policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Call sends req, retrying according to the client's Policy.
// It returns a *Error for every downstream failure and ctx.Err() on cancellation.
func (c *Client) Call(ctx context.Context, req Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: req.URL, Kind: KindPermanent, Message: "invalid URL", Cause: err}
	}
	logURL := redact(parsed)

	var state RetryState
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state.Requests++
		status, header, body, err := c.do(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if ferr := c.transient(ctx, logURL, 0, nil, err, &state); ferr != nil {
				return nil, ferr
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			return &Response{StatusCode: status, Header: header, Body: body, State: state}, nil

		case status == http.StatusTooManyRequests:
			state.LastKind = KindRateLimited
			if c.policy.RateLimitBudget > 0 && state.RateLimitWaits >= c.policy.RateLimitBudget {
				return nil, &Error{URL: logURL, Kind: KindRateLimited, StatusCode: status, Body: string(body),
					Message: "rate limit budget exhausted", State: state}
			}
			wait, hinted := RetryAfter(header, body, c.now())
			if !hinted {
				wait = c.policy.Backoff(state.RateLimitWaits)
			}
			if c.policy.MaxRateLimitWait > 0 && (wait > c.policy.MaxRateLimitWait || wait < 0) {
				wait = c.policy.MaxRateLimitWait
			}
			state.RateLimitWaits++
			c.logger.Warn("fetch.rate_limited",
				"url", logURL, "wait_ms", wait.Milliseconds(), "hinted", hinted, "rate_limit_waits", state.RateLimitWaits)
			if err := c.wait(ctx, KindRateLimited, wait, &state); err != nil {
				return nil, err
			}

		case status >= 500:
			if ferr := c.transient(ctx, logURL, status, body, nil, &state); ferr != nil {
				return nil, ferr
			}

		default:
			state.LastKind = KindPermanent
			c.logger.Warn("fetch.permanent_error", "url", logURL, "status", status)
			return nil, &Error{URL: logURL, Kind: KindPermanent, StatusCode: status, Body: string(body),
				Message: fmt.Sprintf("HTTP status %d", status), State: state}
		}
	}
}

// transient handles a 5xx or transport failure: it returns nil after waiting
// when a retry remains, and the terminal *Error otherwise.
func (c *Client) transient(ctx context.Context, logURL string, status int, body []byte, cause error, state *RetryState) error {
	state.LastKind = KindTransient
	if state.Attempt >= c.policy.MaxRetries {
		c.logger.Error("fetch.retries_exhausted", "url", logURL, "status", status, "attempts", state.Attempt+1)
		return &Error{URL: logURL, Kind: KindTransient, StatusCode: status, Body: string(body),
			Message: "retries exhausted", Cause: cause, State: *state}
	}

	wait := c.policy.Backoff(state.Attempt) + c.jitter(c.policy.Jitter)
	state.Attempt++
	attrs := []any{"url", logURL, "attempt", state.Attempt, "max_retries", c.policy.MaxRetries, "wait_ms", wait.Milliseconds()}
	if status != 0 {
		attrs = append(attrs, "status", status)
	}
	if cause != nil {
		attrs = append(attrs, "error", cause.Error())
	}
	c.logger.Warn("fetch.retry", attrs...)
	return c.wait(ctx, KindTransient, wait, state)
}

func (c *Client) wait(ctx context.Context, kind Kind, d time.Duration, state *RetryState) error {
	d = max(d, 0)
	telemetry.DownstreamRetry.WithLabelValues(string(kind)).Inc()
	telemetry.DownstreamWait.Add(d.Seconds())
	state.Waited += d
	return c.sleep(ctx, d)
}

func (c *Client) do(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Body != nil {
			method = http.MethodPost
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

// redact drops query parameters so API keys never reach the logs.
func redact(u *url.URL) string {
	clean := *u
	if clean.RawQuery != "" {
		q := clean.Query()
		for k := range q {
			if k == "key" || k == "token" || k == "access_token" {
				q.Set(k, "REDACTED")
			}
		}
		clean.RawQuery = q.Encode()
	}
	return clean.String()
}
