// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/config"
	"github.com/creativecanvas/canvasd/internal/guest"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/platform/logutil"
	"github.com/creativecanvas/canvasd/internal/realtime"
	"github.com/creativecanvas/canvasd/internal/sharing"
	"github.com/creativecanvas/canvasd/internal/store"
)

// ErrMissingDep indicates a required dependency was not provided.
var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	Store    store.Store
	Issuer   *auth.Issuer
	Resolver *permissions.Resolver
	Sharing  *sharing.Service
	Guests   *guest.Tracker
	Hub      *realtime.Hub
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	store     store.Store
	issuer    *auth.Issuer
	resolver  *permissions.Resolver
	sharing   *sharing.Service
	guests    *guest.Tracker
	hub       *realtime.Hub
	wsHandler *realtime.Handler
}

// New creates a Server with the given configuration. Returns an error
// if a required dependency is missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}
	logger = logutil.NoopIfNil(logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     deps.Store,
		issuer:    deps.Issuer,
		resolver:  deps.Resolver,
		sharing:   deps.Sharing,
		guests:    deps.Guests,
		hub:       deps.Hub,
		wsHandler: realtime.NewHandler(deps.Hub, deps.Issuer, logger),
	}

	router := s.setupRoutes()

	// No blanket read/write timeouts: /ws carries long-lived websocket
	// connections that a WriteTimeout would sever.
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func validateDeps(deps *Deps) error {
	if deps == nil {
		return fmt.Errorf("%w: deps", ErrMissingDep)
	}
	if deps.Store == nil {
		return fmt.Errorf("%w: store", ErrMissingDep)
	}
	if deps.Issuer == nil {
		return fmt.Errorf("%w: token issuer", ErrMissingDep)
	}
	if deps.Resolver == nil {
		return fmt.Errorf("%w: permission resolver", ErrMissingDep)
	}
	if deps.Sharing == nil {
		return fmt.Errorf("%w: sharing service", ErrMissingDep)
	}
	if deps.Guests == nil {
		return fmt.Errorf("%w: guest tracker", ErrMissingDep)
	}
	if deps.Hub == nil {
		return fmt.Errorf("%w: realtime hub", ErrMissingDep)
	}
	return nil
}

// Handler exposes the configured router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.cfg.ListenAddr, "driver", s.cfg.Database.Driver)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}
