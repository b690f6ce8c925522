// Package httpclient provides an HTTP client with provider-aware retries.
//
// Rate-limited (429) and transient (5xx, timeout) responses are retried with
// exponential backoff and full jitter; Retry-After and rate-limit reset
// headers take precedence over the computed delay when a parser is set.
package httpclient

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	BackoffRetry
)

const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 8 * time.Second
)

// RateLimitInfo carries provider rate-limit hints parsed from headers.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	backoffBase  time.Duration
	backoffCap   time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) { c.headerParser = parser }
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) { c.strategyFunc = strategyFunc }
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   DefaultMaxRetries,
		backoffBase:  DefaultBackoffBase,
		backoffCap:   DefaultBackoffCap,
		strategyFunc: DefaultRetryStrategy,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DefaultRetryStrategy retries rate limits and transient server failures.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return BackoffRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying per the configured strategy. The request
// body must be replayable (GetBody set) for retries to re-send it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)
		if strategy == NoRetry || err == nil {
			return resp, err
		}

		lastResp, lastErr = resp, err

		if attempt >= c.maxRetries {
			break
		}

		delay := c.retryDelay(attempt, retryInfo)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
			// This response is about to be superseded by a retry; release
			// its connection.
			resp.Body.Close()
		}
		slog.Debug("retrying HTTP request",
			"status", statusCode, "delay", delay, "attempt", attempt+1, "max", c.maxRetries)

		if err := sleepContext(req.Context(), delay); err != nil {
			return nil, err
		}
	}

	statusCode := 0
	if lastResp != nil {
		statusCode = lastResp.StatusCode
	}
	return lastResp, &RetryableError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, NoRetry, RateLimitInfo{}, err
		}
		// Network-level failure: connection reset, timeout. Retryable.
		return nil, BackoffRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var retryInfo RateLimitInfo
	if c.headerParser != nil {
		retryInfo = c.headerParser(resp.Header)
	}

	return resp, c.strategyFunc(resp.StatusCode), retryInfo, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// retryDelay prefers provider hints, falling back to exponential backoff
// with full jitter.
func (c *Client) retryDelay(attempt int, retryInfo RateLimitInfo) time.Duration {
	if retryInfo.RetryAfter > 0 {
		return retryInfo.RetryAfter
	}
	if retryInfo.ResetTime > 0 {
		if delay := time.Until(time.Unix(retryInfo.ResetTime, 0)); delay > 0 {
			return delay
		}
	}
	return FullJitterBackoff(attempt, c.backoffBase, c.backoffCap)
}

// FullJitterBackoff returns a random delay in [0, min(cap, base*2^attempt)).
func FullJitterBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if ceiling > cap || ceiling <= 0 {
		ceiling = cap
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
