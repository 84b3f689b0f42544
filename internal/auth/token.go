// Package auth resolves bearer tokens into actors.
//
// Two credentials are accepted. The scheduling host presents the shared
// callback secret and becomes a system actor. Dashboard users present an
// HS256 JWT whose subject is their user id.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"subtrack/internal/config"
	"subtrack/internal/types"
)

// SystemActorID identifies the scheduling host in logs and run metadata.
const SystemActorID = "scheduler"

const (
	sourceCallback = "callback"
	sourceJWT      = "jwt"
)

// TokenAuthenticator implements core.Authenticator.
type TokenAuthenticator struct {
	jwtSecret      []byte
	issuer         string
	callbackSecret []byte
	clock          types.Clock
}

// NewTokenAuthenticator creates an authenticator from the auth config.
func NewTokenAuthenticator(cfg config.AuthConfig, clock types.Clock) *TokenAuthenticator {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &TokenAuthenticator{
		jwtSecret:      []byte(cfg.JWTSecret.Unmask()),
		issuer:         cfg.JWTIssuer,
		callbackSecret: []byte(cfg.CallbackSecret.Unmask()),
		clock:          clock,
	}
}

// ResolveToken returns the actor a token authenticates. Expired user tokens
// are reported with ErrCodeAuthTokenExpired; every other failure is
// ErrCodeAuthTokenInvalid.
func (a *TokenAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	if len(a.callbackSecret) > 0 && subtle.ConstantTimeCompare([]byte(token), a.callbackSecret) == 1 {
		return &types.Actor{ID: SystemActorID, Type: types.ActorTypeSystem, Source: sourceCallback}, nil
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
	case err != nil:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	case claims.Subject == "":
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}

	return &types.Actor{ID: claims.Subject, Type: types.ActorTypeUser, Source: sourceJWT}, nil
}

// IssueToken signs a user token valid for ttl. The dashboard's identity
// service normally mints these; this is used by tooling and tests.
func (a *TokenAuthenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}
