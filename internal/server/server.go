// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

// Package server exposes the control plane's HTTP surface: the health
// report and the admin breaker endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/giak/mnemo-lite-sub001/internal/breaker"
	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

// WorkerSnapshotter reports managed worker state for the health surface.
type WorkerSnapshotter interface {
	Snapshot() []health.WorkerStatus
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wraps a chi router with the huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	breakers *breaker.Registry
	workers  WorkerSnapshotter
	logger   *slog.Logger
}

// New creates a Server with chi router, huma API, health endpoint, and
// the admin breaker routes. workers may be nil when no worker registry
// is running.
func New(cfg Config, breakers *breaker.Registry, workers WorkerSnapshotter, logger *slog.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, mnemoerr.New(mnemoerr.CodeServerStartFailure, "listen address is required")
	}
	if breakers == nil {
		return nil, mnemoerr.New(mnemoerr.CodeServerStartFailure, "breaker registry is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Mnemo Control Plane", "0.1.0")
	humaConfig.Info.Description = "Fault-tolerance control plane for the mnemo code-intelligence backend"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:   r,
		api:      api,
		cfg:      cfg,
		breakers: breakers,
		workers:  workers,
		logger:   logger,
	}
	srv.registerRoutes()

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeServerStartFailure, "listening on "+s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return mnemoerr.Wrap(err, mnemoerr.CodeServerShutdownFailure, "shutting down http server")
	}

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
