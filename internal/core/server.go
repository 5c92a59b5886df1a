// Package core provides the HTTP chassis for the status webhook. It builds a
// chi router that serves both the local development server and the Lambda
// adapter, and applies the cross-cutting middleware (panic recovery, request
// ids, structured request logging) before requests reach handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smsrelay/internal/config"
)

// RouteRegistrar mounts domain handler routes on the router. Registrars are
// supplied by the entrypoint so core never imports handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the router and its dependencies.
type Server struct {
	Config          *config.Config
	Logger          *slog.Logger
	HealthProbes    []HealthProbe
	RouteRegistrars []RouteRegistrar

	// OnShutdown hooks run in order during Shutdown (e.g. closing the pool).
	OnShutdown []func()

	router *chi.Mux
}

// NewServer prepares a server for route mounting. The caller mounts routes
// via MountRoutes after setting registrars and probes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi router so routes can be mounted.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for _, fn := range s.OnShutdown {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted: %w", err)
		}
		fn()
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
