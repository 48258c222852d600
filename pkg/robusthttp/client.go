// HTTP client with retries, for outbound calls like webhooks.
package robusthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Adapts slog to retryablehttp's LeveledLogger.
type LeveledSlog struct {
	inner *slog.Logger
}

// intermediate failures are retried, so ERROR is logged as WARN
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type Option func(*config)

type config struct {
	retry   *retryablehttp.Client
	timeout time.Duration
}

func WithMaxRetries(maxRetries int) Option {
	return func(c *config) {
		c.retry.RetryMax = maxRetries
	}
}

func WithRetryWaitMin(waitMin time.Duration) Option {
	return func(c *config) {
		c.retry.RetryWaitMin = waitMin
	}
}

func WithRetryWaitMax(waitMax time.Duration) Option {
	return func(c *config) {
		c.retry.RetryWaitMax = waitMax
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.retry.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// Overall timeout for a request, including retries.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Returns a stdlib *http.Client which retries connection errors and 5xx responses (except 501) with backoff. 429 is not retried, so callers can apply their own rate-limit handling. Requests are traced with otelhttp.
func NewClient(options ...Option) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("subsystem", "robusthttp")})
	retryClient.CheckRetry = DefaultRetryPolicy

	c := &config{retry: retryClient, timeout: 15 * time.Second}
	for _, option := range options {
		option(c)
	}

	client := retryClient.StandardClient()
	client.Timeout = c.timeout
	return client
}

// Wraps retryablehttp.DefaultRetryPolicy, treating 429 as non-retryable.
func DefaultRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
