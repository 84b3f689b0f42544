package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subtrack/internal/config"
	"subtrack/internal/types"
)

type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

func newTestAuthenticator(clock types.Clock) *TokenAuthenticator {
	return NewTokenAuthenticator(config.AuthConfig{
		JWTSecret:      "0123456789abcdef0123456789abcdef",
		JWTIssuer:      "subtrack",
		CallbackSecret: "callback-secret-value",
	}, clock)
}

func TestResolveToken_CallbackSecret(t *testing.T) {
	a := newTestAuthenticator(nil)

	actor, err := a.ResolveToken(context.Background(), "callback-secret-value")
	require.NoError(t, err)
	assert.Equal(t, types.ActorTypeSystem, actor.Type)
	assert.Equal(t, SystemActorID, actor.ID)
	assert.True(t, actor.IsSystem())
}

func TestResolveToken_UserJWT(t *testing.T) {
	clock := &mockClock{now: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)}
	a := newTestAuthenticator(clock)

	token, err := a.IssueToken("usr_42", time.Hour)
	require.NoError(t, err)

	actor, err := a.ResolveToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "usr_42", actor.ID)
	assert.Equal(t, types.ActorTypeUser, actor.Type)
	assert.Equal(t, "jwt", actor.Source)
}

func TestResolveToken_Expired(t *testing.T) {
	clock := &mockClock{now: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)}
	a := newTestAuthenticator(clock)

	token, err := a.IssueToken("usr_42", time.Minute)
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Minute)
	_, err = a.ResolveToken(context.Background(), token)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenExpired))
}

func TestResolveToken_Invalid(t *testing.T) {
	clock := &mockClock{now: time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)}
	a := newTestAuthenticator(clock)

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := jwt.RegisteredClaims{
		Subject:   "usr_1",
		Issuer:    "subtrack",
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"near miss on callback secret", "callback-secret-valuf"},
		{"wrong key", sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), valid)},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("0123456789abcdef0123456789abcdef"), valid)},
		{"missing expiry", sign(jwt.SigningMethodHS256, []byte("0123456789abcdef0123456789abcdef"), noExpiry)},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte("0123456789abcdef0123456789abcdef"), wrongIssuer)},
		{"missing subject", sign(jwt.SigningMethodHS256, []byte("0123456789abcdef0123456789abcdef"), noSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := a.ResolveToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.Nil(t, actor)
			assert.True(t, types.HasCode(err, types.ErrCodeAuthTokenInvalid))
		})
	}
}
