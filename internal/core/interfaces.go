package core

import (
	"context"
	"time"

	"subtrack/internal/types"
)

// Authenticator resolves a bearer token into an Actor.
//
// Implementations return ErrCodeAuthTokenExpired for expired tokens and
// ErrCodeAuthTokenInvalid for anything else that does not authenticate.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RequestRecorder records per-request telemetry.
type RequestRecorder interface {
	RecordRequest(ctx context.Context, endpoint string, status int, d time.Duration)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck consumes one request for key and reports whether it
	// fits within limit requests per window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is when at least one more request will be allowed.
	ResetAt time.Time
}
