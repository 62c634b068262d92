package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultShutdownTimeout bounds Shutdown when no timeout is configured
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops HTTP servers and releases resources in order:
// servers drain first, then registered functions run concurrently.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	timeout time.Duration

	mu      sync.Mutex
	servers []*http.Server
	funcs   []namedShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger logrus.FieldLogger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{
		logger:  OrDiscard(logger),
		timeout: timeout,
	}
}

// AddServer registers an HTTP server to drain
func (sm *ShutdownManager) AddServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc registers a function to call once servers are drained
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdownFunc{name: name, fn: fn})
}

// Shutdown drains servers and runs the shutdown functions within the
// configured timeout. Every failure is returned joined.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]namedShutdownFunc(nil), sm.funcs...)
	sm.mu.Unlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	addErr := func(err error) {
		errMu.Lock()
		errs = append(errs, err)
		errMu.Unlock()
	}

	for _, server := range servers {
		sm.logger.WithField("addr", server.Addr).Info("shutting down HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).WithField("addr", server.Addr).Error("HTTP server shutdown error")
			addErr(fmt.Errorf("server %s: %w", server.Addr, err))
		}
	}

	var wg sync.WaitGroup
	for _, f := range funcs {
		wg.Add(1)
		go func(f namedShutdownFunc) {
			defer wg.Done()
			defer RecoverPanicWithCallback(sm.logger, "shutdown "+f.name, addErr)
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("resource", f.name).Error("shutdown function failed")
				addErr(fmt.Errorf("%s: %w", f.name, err))
			}
		}(f)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("shutdown timeout reached, forcing shutdown")
		errMu.Lock()
		defer errMu.Unlock()
		return errors.Join(append(errs, fmt.Errorf("shutdown timeout reached"))...)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("graceful shutdown complete")
	return nil
}
