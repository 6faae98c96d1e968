// Package core provides the HTTP chassis for sigproxy. It owns the chi
// router and the cross-cutting middleware (panic recovery, request IDs,
// logging, CORS, metrics, compression, bearer auth) that runs before
// requests reach the engine and coverage handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sigproxy/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the HTTP surface so tests can
// inject their own.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
	HealthProbes   []HealthProbe

	// V1RouteRegistrars mount handler routes under /v1. They are supplied by
	// the entry point so core does not import the handler packages.
	V1RouteRegistrars []func(chi.Router)

	closers []io.Closer
	router  *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes with MountRoutes after adding registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource released by Shutdown, in reverse order of
// registration.
func (s *Server) OnShutdown(c io.Closer) {
	s.closers = append(s.closers, c)
}

// Shutdown releases registered resources such as the engine daemon. It is
// called after the HTTP listener has drained.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.closers[i].Close(); err != nil {
			s.Logger.Error("error releasing resource", "error", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
