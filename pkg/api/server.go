package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/platinummonkey/appmesh/pkg/config"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Server runs the REST listener and the health listener
type Server struct {
	cfg      config.ServerConfig
	api      *http.Server
	health   *http.Server
	logger   logrus.FieldLogger
	shutdown *observability.ShutdownManager
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the server logger
func WithLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownManager drains the listeners through sm, after which its
// registered functions run. Without one a private manager is used.
func WithShutdownManager(sm *observability.ShutdownManager) ServerOption {
	return func(s *Server) {
		s.shutdown = sm
	}
}

// NewServer creates a server for handler and healthHandler
func NewServer(cfg config.ServerConfig, handler, healthHandler http.Handler, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	if s.shutdown == nil {
		s.shutdown = observability.NewShutdownManager(s.logger, cfg.ShutdownTimeout)
	}

	s.api = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.health = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.HealthPort),
		Handler:      healthHandler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.shutdown.AddServer(s.api)
	s.shutdown.AddServer(s.health)
	return s
}

// ListenAndServe listens on the configured ports and serves until ctx ends
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.api.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.api.Addr, err)
	}
	healthLn, err := net.Listen("tcp", s.health.Addr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to listen on %s: %w", s.health.Addr, err)
	}
	return s.Serve(ctx, ln, healthLn)
}

// Serve serves on the given listeners. When ctx ends, or either listener
// fails, both servers drain and the shutdown functions run.
func (s *Server) Serve(ctx context.Context, ln, healthLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.WithField("addr", ln.Addr().String()).Info("REST server listening")
		return serve(s.api, ln)
	})
	g.Go(func() error {
		s.logger.WithField("addr", healthLn.Addr().String()).Info("health server listening")
		return serve(s.health, healthLn)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		return s.shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func serve(server *http.Server, ln net.Listener) error {
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", ln.Addr(), err)
	}
	return nil
}
