// Package external wraps the third-party services the reminder pipeline
// talks to. Outbound HTTP goes through BaseClient, which adds a circuit
// breaker, bounded retries on 429/5xx and mapping to types.AppError.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"

	"subtrack/internal/types"
)

// RetryPolicy bounds the in-request retries of a BaseClient. Durable retries
// across hours belong to the workflow engine, so these stay short.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns defaults suitable for transactional APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient executes HTTP requests with resilience applied uniformly.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*breakerSettings)

type breakerSettings struct {
	tripAfter   uint32
	openTimeout time.Duration
}

// WithBreakerTrip opens the breaker after n consecutive failures and keeps it
// open for timeout.
func WithBreakerTrip(n uint32, timeout time.Duration) BaseClientOption {
	return func(s *breakerSettings) {
		s.tripAfter = n
		s.openTimeout = timeout
	}
}

// NewBaseClient creates a BaseClient whose breaker is identified by name.
func NewBaseClient(httpClient *http.Client, name string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	settings := breakerSettings{tripAfter: 5, openTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&settings)
	}
	if policy.MinWait <= 0 {
		policy.MinWait = 100 * time.Millisecond
	}
	if policy.MaxWait < policy.MinWait {
		policy.MaxWait = policy.MinWait
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     settings.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.tripAfter
		},
	})

	return &BaseClient{
		client:    httpClient,
		breaker:   cb,
		policy:    policy,
		userAgent: userAgent,
	}
}

// errRetryableStatus marks 429 and 5xx responses as breaker failures.
var errRetryableStatus = errors.New("retryable upstream status")

// Do sends req. Responses other than 429/5xx are returned to the caller,
// who must close the body. Exhausted retries, an open breaker and transport
// failures come back as *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		result     *http.Response
		failed     *http.Response
		retryAfter time.Duration
	)
	err := retry.Do(req.Context(), c.backoff(&retryAfter), func(ctx context.Context) error {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
				return r, fmt.Errorf("%w: %d", errRetryableStatus, r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			result = resp
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}

		if failed != nil {
			failed.Body.Close()
		}
		failed = resp
		retryAfter = parseRetryAfter(resp, c.policy.MaxWait)
		return retry.RetryableError(err)
	})
	if err == nil {
		if failed != nil {
			failed.Body.Close()
		}
		return result, nil
	}
	if failed != nil {
		failed.Body.Close()
	}
	return nil, c.mapError(failed, err)
}

// backoff is exponential with jitter, except that a server-supplied
// Retry-After overrides the next wait.
func (c *BaseClient) backoff(hint *time.Duration) retry.Backoff {
	b := retry.NewExponential(c.policy.MinWait)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(c.policy.MaxWait, b)
	b = retry.WithMaxRetries(uint64(c.policy.MaxRetries), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > 0 {
			next = *hint
			*hint = 0
		}
		return next, false
	})
}

func parseRetryAfter(resp *http.Response, limit time.Duration) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	var wait time.Duration
	if seconds, err := strconv.Atoi(v); err == nil {
		wait = time.Duration(seconds) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		wait = time.Until(at)
	}
	if wait <= 0 {
		return 0
	}
	return min(wait, limit)
}

func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open for "+c.breaker.Name(), err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request interrupted", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
