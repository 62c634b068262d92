package forward

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a forwarded round trip when the request context has
// no earlier deadline.
const DefaultTimeout = 30 * time.Second

// Client forwards REST requests to the upstream daemon, one TCP connection
// per request.
type Client struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

var _ rest.Forwarder = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the dial and IO deadline of a round trip
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientMetrics counts forwarded requests by upstream status
func WithClientMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client for the upstream daemon at address (host:port).
func NewClient(address string, opts ...ClientOption) *Client {
	c := &Client{
		address: address,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	c.logger = observability.OrDiscard(c.logger)
	return c
}

// Address returns the upstream address
func (c *Client) Address() string {
	return c.address
}

// Forward sends req upstream and relays the upstream reply. When the
// upstream cannot be reached no reply is sent and the error is returned, so
// the dispatcher answers 503.
func (c *Client) Forward(req *rest.Request) error {
	frame := NewRequestFrame(req)

	resp, err := c.RoundTrip(req.Context(), frame)
	if err != nil {
		c.metrics.RecordForward("error")
		return err
	}

	c.metrics.RecordForward(strconv.Itoa(resp.Status))
	c.logger.WithFields(logrus.Fields{
		"frame_id": frame.ID,
		"path":     frame.Path,
		"status":   resp.Status,
	}).Debug("forwarded request")

	return req.ReplyContent(resp.Status, resp.ContentType, string(resp.Body))
}

// RoundTrip writes frame and reads the matching response.
func (c *Client) RoundTrip(ctx context.Context, frame RequestFrame) (*ResponseFrame, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("upstream %s unavailable: %w", c.address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set upstream deadline: %w", err)
	}

	if err := newEncoder(conn).Encode(frame); err != nil {
		return nil, fmt.Errorf("failed to send request to upstream %s: %w", c.address, err)
	}

	var resp ResponseFrame
	if err := newDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read upstream %s response: %w", c.address, err)
	}
	if resp.ID != frame.ID {
		return nil, fmt.Errorf("upstream %s answered frame %q, expected %q", c.address, resp.ID, frame.ID)
	}
	return &resp, nil
}
