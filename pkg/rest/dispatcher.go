package rest

import (
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/appmesh/pkg/apperr"
	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Greeting is the reply body for the root path.
	Greeting = "App Mesh"
	// FileRoutePrefix marks file transfer endpoints, which are never forwarded.
	FileRoutePrefix = "/appmesh/file"
	// NotFoundMessage is the reply body when no route matches.
	NotFoundMessage = "Path not found"
	// UnknownErrorMessage is the reply body for failures that carry no error.
	UnknownErrorMessage = "unknown exception"
	// MethodNotAllowedMessage is the reply body for verbs the dispatcher does not route.
	MethodNotAllowedMessage = "Method not allowed"
)

// Terminal outcomes of a dispatched request, used for metrics and spans.
const (
	OutcomeForwarded        = "forwarded"
	OutcomeRoot             = "root"
	OutcomeNotFound         = "not_found"
	OutcomeOK               = "ok"
	OutcomeHandlerError     = "handler_error"
	OutcomePanic            = "panic"
	OutcomeOptions          = "options"
	OutcomeMethodNotAllowed = "method_not_allowed"
)

const tracerName = "github.com/platinummonkey/appmesh/pkg/rest"

// Handler serves a matched request. A returned error is converted to a
// reply by the dispatcher unless the handler already replied.
type Handler func(req *Request) error

// Forwarder hands a request to the upstream daemon. It owns the reply.
type Forwarder interface {
	Forward(req *Request) error
}

// Dispatcher routes requests to handlers bound per method and path pattern.
//
// Patterns are literal paths or RE2 regular expressions matched against the
// whole path. An exact literal match wins; otherwise regex patterns are tried
// in lexicographic order of the pattern string and the first match wins.
// Bind takes the write lock; request dispatch only reads.
type Dispatcher struct {
	mu     sync.RWMutex
	tables map[string]*routeTable

	forwarder    Forwarder
	filePrefix   string
	strictStatus bool
	maxBodyBytes int64

	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithForwarder enables forwarding of non-file requests to f.
func WithForwarder(f Forwarder) Option {
	return func(d *Dispatcher) {
		d.forwarder = f
	}
}

// WithFileRoutePrefix overrides the path prefix exempt from forwarding.
func WithFileRoutePrefix(prefix string) Option {
	return func(d *Dispatcher) {
		d.filePrefix = prefix
	}
}

// WithStrictStatus replies 401/403/429 for auth failures instead of 400.
func WithStrictStatus(strict bool) Option {
	return func(d *Dispatcher) {
		d.strictStatus = strict
	}
}

// WithMaxBodyBytes limits request bodies read by ServeHTTP.
func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) {
		d.maxBodyBytes = n
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics records dispatch outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// NewDispatcher creates a dispatcher with empty route tables.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tables: map[string]*routeTable{
			http.MethodGet:    newRouteTable(),
			http.MethodPut:    newRouteTable(),
			http.MethodPost:   newRouteTable(),
			http.MethodDelete: newRouteTable(),
		},
		filePrefix: FileRoutePrefix,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = observability.OrDiscard(d.logger)
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	return d
}

// ForwardingEnabled reports whether requests are sent upstream.
func (d *Dispatcher) ForwardingEnabled() bool {
	return d.forwarder != nil
}

// Bind registers handler for method and pattern. Rebinding the same pattern
// replaces the handler. Unsupported methods are logged and ignored.
func (d *Dispatcher) Bind(method, pattern string, handler Handler) {
	method = strings.ToUpper(method)
	logger := d.logger.WithField("method", method).WithField("pattern", pattern)

	table, ok := d.tables[method]
	if !ok {
		logger.Errorf("%s not supported", method)
		return
	}
	if handler == nil {
		logger.Error("nil handler not bound")
		return
	}

	regex, err := compilePattern(pattern)
	if err != nil {
		logger.WithError(err).Warn("pattern is not a valid regular expression, matching literally")
		regex = nil
	}

	logger.Debugf("bind %s for %s", method, pattern)

	d.mu.Lock()
	defer d.mu.Unlock()
	table.bind(pattern, regex, handler)
}

// Routes returns the bound patterns of method in lexicographic order.
func (d *Dispatcher) Routes(method string) []string {
	table, ok := d.tables[strings.ToUpper(method)]
	if !ok {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return table.patterns()
}

// HandleGet dispatches a GET request
func (d *Dispatcher) HandleGet(req *Request) {
	d.handle(req, http.MethodGet)
}

// HandlePut dispatches a PUT request
func (d *Dispatcher) HandlePut(req *Request) {
	d.handle(req, http.MethodPut)
}

// HandlePost dispatches a POST request
func (d *Dispatcher) HandlePost(req *Request) {
	d.handle(req, http.MethodPost)
}

// HandleDelete dispatches a DELETE request
func (d *Dispatcher) HandleDelete(req *Request) {
	d.handle(req, http.MethodDelete)
}

// HandleOptions replies 200 with an empty body without routing.
func (d *Dispatcher) HandleOptions(req *Request) {
	start := time.Now()
	req.Reply(http.StatusOK, "")
	d.metrics.RecordDispatch(http.MethodOptions, OutcomeOptions, time.Since(start))
}

// Dispatch selects the verb entry point from req.Method.
func (d *Dispatcher) Dispatch(req *Request) {
	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		d.HandleGet(req)
	case http.MethodPut:
		d.HandlePut(req)
	case http.MethodPost:
		d.HandlePost(req)
	case http.MethodDelete:
		d.HandleDelete(req)
	case http.MethodOptions:
		d.HandleOptions(req)
	default:
		req.Reply(http.StatusMethodNotAllowed, MethodNotAllowedMessage)
		d.metrics.RecordDispatch(req.Method, OutcomeMethodNotAllowed, 0)
	}
}

func (d *Dispatcher) handle(req *Request, method string) {
	start := time.Now()

	ctx := req.Context()
	if ctx.Value(contextkeys.LoggerKey) == nil {
		ctx = observability.WithLogger(ctx, d.logger)
	}
	ctx, span := d.tracer.Start(ctx, "rest."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.target", req.RelativeURI),
		),
	)
	ctx = observability.WithLogger(ctx, observability.WithTraceContext(ctx, observability.FromContext(ctx)))
	req.WithContext(ctx)

	outcome := d.route(req, method)

	span.SetAttributes(attribute.String("appmesh.rest.outcome", outcome))
	span.End()
	d.metrics.RecordDispatch(method, outcome, time.Since(start))
}

func (d *Dispatcher) route(req *Request, method string) string {
	if d.forward(req) {
		return OutcomeForwarded
	}

	path := strings.ReplaceAll(req.RelativeURI, "//", "/")
	if path == "" || path == "/" {
		req.Reply(http.StatusOK, Greeting)
		return OutcomeRoot
	}

	handler, ok := d.match(method, path)
	if !ok {
		req.Reply(http.StatusNotFound, NotFoundMessage)
		return OutcomeNotFound
	}

	return d.invoke(req, path, handler)
}

func (d *Dispatcher) forward(req *Request) bool {
	if d.forwarder == nil || strings.HasPrefix(req.RelativeURI, d.filePrefix) {
		return false
	}

	if err := d.forwarder.Forward(req); err != nil {
		observability.FromContext(req.Context()).
			WithField("path", req.RelativeURI).
			WithError(err).
			Warn("forward to upstream failed")
		if !req.Replied() {
			req.Reply(http.StatusServiceUnavailable, err.Error())
		}
	}
	return true
}

func (d *Dispatcher) match(method, path string) (Handler, bool) {
	table, ok := d.tables[method]
	if !ok {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return table.match(path)
}

// invoke runs handler so that no error or panic escapes and the request is
// answered exactly once.
func (d *Dispatcher) invoke(req *Request, path string, handler Handler) (outcome string) {
	logger := observability.FromContext(req.Context()).WithField("path", path)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		outcome = OutcomePanic

		err, isErr := r.(error)
		if _, isRuntime := r.(runtime.Error); isErr && !isRuntime {
			logger.WithError(err).Warnf("rest %s failed with error: %v", path, err)
			d.replyError(req, logger, err)
			return
		}

		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			Warnf("rest %s failed", path)
		d.replyFailure(req, logger, http.StatusBadRequest, UnknownErrorMessage)
	}()

	if err := handler(req); err != nil {
		logger.WithError(err).Warnf("rest %s failed with error: %v", path, err)
		d.replyError(req, logger, err)
		return OutcomeHandlerError
	}
	return OutcomeOK
}

func (d *Dispatcher) replyError(req *Request, logger logrus.FieldLogger, err error) {
	d.replyFailure(req, logger, apperr.HTTPStatus(err, d.strictStatus), err.Error())
}

func (d *Dispatcher) replyFailure(req *Request, logger logrus.FieldLogger, status int, message string) {
	if req.Replied() {
		logger.Warn("handler failed after replying, error not sent")
		return
	}
	req.Reply(status, message)
}
