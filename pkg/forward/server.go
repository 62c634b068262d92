package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/sirupsen/logrus"
)

// NoReplyMessage is sent when a handler returned without answering.
const NoReplyMessage = "upstream handler sent no reply"

// Server is the upstream side of forwarding. It decodes request frames and
// runs them through a dispatcher that serves locally.
type Server struct {
	dispatcher  *rest.Dispatcher
	idleTimeout time.Duration
	logger      logrus.FieldLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithIdleTimeout closes connections that send no frame for d
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithServerLogger sets the server logger
func WithServerLogger(logger logrus.FieldLogger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an upstream server for dispatcher. A dispatcher that
// itself forwards would loop and is refused.
func NewServer(dispatcher *rest.Dispatcher, opts ...ServerOption) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("forward server requires a dispatcher")
	}
	if dispatcher.ForwardingEnabled() {
		return nil, errors.New("forward server dispatcher must not forward")
	}

	s := &Server{
		dispatcher:  dispatcher,
		idleTimeout: 2 * time.Minute,
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.OrDiscard(s.logger)
	return s, nil
}

// ListenAndServe listens on address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called, then waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	s.logger.WithField("addr", ln.Addr().String()).Info("upstream listener started")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			defer observability.RecoverPanic(s.logger, "forward connection")
			s.serveConn(ctx, conn)
		}()
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and closes open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// serveConn answers frames in order until the peer closes the connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	logger := s.logger.WithField("remote", conn.RemoteAddr().String())
	dec := newDecoder(conn)
	enc := newEncoder(conn)

	for {
		if s.idleTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(s.idleTimeout))
		}

		var frame RequestFrame
		if err := dec.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.WithError(err).Warn("failed to decode request frame")
			}
			return
		}

		resp := s.dispatch(ctx, frame)
		if err := enc.Encode(resp); err != nil {
			logger.WithError(err).WithField("frame_id", frame.ID).Warn("failed to write response frame")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, frame RequestFrame) ResponseFrame {
	resp := ResponseFrame{ID: frame.ID}
	replied := false

	req := frame.Request(ctx, rest.ReplierFunc(func(status int, contentType, body string) error {
		resp.Status = status
		resp.ContentType = contentType
		resp.Body = []byte(body)
		replied = true
		return nil
	}))
	s.dispatcher.Dispatch(req)

	if !replied {
		s.logger.WithField("path", frame.Path).Error(NoReplyMessage)
		resp.Status = http.StatusInternalServerError
		resp.ContentType = rest.ContentTypeText
		resp.Body = []byte(NoReplyMessage)
	}
	return resp
}
