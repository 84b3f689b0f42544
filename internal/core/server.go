// Package core is the HTTP chassis for the SubTrack API. It builds a chi
// router and applies the cross-cutting concerns (recovery, request ids,
// logging, compression, metrics, authentication and rate limiting) before
// requests reach the workflow handlers.
package core

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"subtrack/internal/config"
)

// Server holds the dependencies of the API. Optional fields left nil turn
// the corresponding middleware into a pass-through, which keeps tests small.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        RequestRecorder
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthChecks   []HealthCheck

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// RouteRegistrars mount domain handlers. Populated by main to keep core
	// free of handler imports.
	RouteRegistrars []func(r chi.Router)

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately via MountRoutes
// so callers can attach registrars and checks first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}
