package core

import (
	"context"
	"sync"
	"time"

	"subtrack/internal/types"
)

// MockAuthenticator implements Authenticator for tests. Tokens maps a token
// to its actor; unknown tokens fail with auth_token_invalid unless Err is set.
//
//	auth := &MockAuthenticator{Tokens: map[string]*types.Actor{
//	    "user-token": {ID: "usr_1", Type: types.ActorTypeUser},
//	}}
type MockAuthenticator struct {
	Tokens map[string]*types.Actor
	Err    error

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if actor, ok := m.Tokens[token]; ok {
		return actor, nil
	}
	return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "unknown token", nil)
}

// MockRateLimitStore implements RateLimitStore with a fixed result.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu   sync.Mutex
	Keys []string
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, _ int, _ time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return m.Result, m.Err
}

// MockRequestRecorder collects RecordRequest calls.
type MockRequestRecorder struct {
	mu       sync.Mutex
	Requests []RecordedRequest
}

// RecordedRequest is one call to MockRequestRecorder.RecordRequest.
type RecordedRequest struct {
	Endpoint string
	Status   int
}

func (m *MockRequestRecorder) RecordRequest(_ context.Context, endpoint string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{Endpoint: endpoint, Status: status})
}

// Recorded returns a copy of the recorded requests.
func (m *MockRequestRecorder) Recorded() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.Requests...)
}
