package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subtrack/internal/types"
)

// maxLimiterKeys bounds the limiter map; idle entries are pruned past it.
const maxLimiterKeys = 10000

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryRateLimitStore is a token-bucket RateLimitStore held in process
// memory. Each key refills at limit/window and bursts up to limit. Counts
// are per instance; several API replicas each allow the full limit.
type MemoryRateLimitStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	clock    types.Clock
}

// NewMemoryRateLimitStore creates an empty store.
func NewMemoryRateLimitStore(clock types.Clock) *MemoryRateLimitStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryRateLimitStore{limiters: make(map[string]*limiterEntry), clock: clock}
}

func (m *MemoryRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := m.clock.Now()
	if limit <= 0 {
		return RateLimitResult{Allowed: true, ResetAt: now}, nil
	}
	interval := window / time.Duration(limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.limiters[key]
	if !ok || entry.limiter.Burst() != limit {
		if len(m.limiters) >= maxLimiterKeys {
			m.pruneLocked(now, window)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(interval), limit)}
		m.limiters[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if remaining == 0 {
		resetAt = now.Add(interval)
	}
	return RateLimitResult{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

func (m *MemoryRateLimitStore) pruneLocked(now time.Time, idle time.Duration) {
	for k, e := range m.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(m.limiters, k)
		}
	}
}
