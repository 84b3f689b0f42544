package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subtrack/internal/types"
)

const rateLimitWindow = time.Minute

// RateLimit enforces Config.Server.RateLimitPerMinute per actor, falling
// back to the client IP for requests that carry no actor. Store errors fail
// open. A nil store or a zero limit disables the check.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := s.rateLimitPerMinute()
		if s.RateLimitStore == nil || limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := "ip:" + extractClientIP(r)
		if actor, ok := types.GetActor(r.Context()); ok {
			key = string(actor.Type) + ":" + actor.ID
		}

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, rateLimitWindow)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("key", key),
				slog.String("path", r.URL.Path),
			)
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPerMinute() int {
	if s.Config == nil {
		return 0
	}
	return s.Config.Server.RateLimitPerMinute
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP prefers the first X-Forwarded-For entry and falls back to
// RemoteAddr without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		if ip = strings.TrimSpace(ip); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
