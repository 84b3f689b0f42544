package core

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"subtrack/internal/types"
)

// authPublicPaths bypass authentication.
var authPublicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// AuthMiddleware resolves the bearer token into an Actor and stores it in
// the request context. Missing tokens get auth_token_missing; resolution
// failures get auth_token_expired or auth_token_invalid. A nil
// Authenticator disables the check.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// extractBearerToken returns the token from "Bearer <token>", matching the
// scheme case-insensitively.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			s.Logger.WarnContext(r.Context(), "authentication failed: token expired",
				slog.String("path", r.URL.Path))
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenExpired, "Authentication token has expired", nil))
			return
		case types.ErrCodeAuthTokenInvalid:
			s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
				slog.String("path", r.URL.Path))
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}
	}

	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Authentication failed", nil))
}

// RequireActorType rejects requests whose Actor is not one of allowed.
// Unauthenticated requests get 401, the wrong actor type gets 403.
func (s *Server) RequireActorType(allowed ...types.ActorType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
				return
			}
			if !slices.Contains(allowed, actor.Type) {
				Error(w, r, types.NewAppError(types.ErrCodePermissionActorType, "This endpoint is not available to this caller", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
