package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/appmesh/pkg/httputil"
	"github.com/platinummonkey/appmesh/pkg/middleware"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const operationName = "appmesh-rest"

// Headers the web UI sends besides the CORS defaults
var extraAllowedHeaders = []string{"Expire-Seconds", "Auth-Permission"}

// RouterOptions configures NewRouter
type RouterOptions struct {
	Logger      logrus.FieldLogger
	CORSOrigins []string

	// RateLimiter limits requests per client address when set
	RateLimiter     middleware.Limiter
	RateLimitConfig *middleware.RateLimitConfig

	TracerProvider trace.TracerProvider
}

// NewRouter serves every path through dispatcher
func NewRouter(dispatcher *rest.Dispatcher, opts RouterOptions) http.Handler {
	logger := observability.OrDiscard(opts.Logger)

	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}

	router := mux.NewRouter().SkipClean(true)
	router.PathPrefix("/").Handler(otelhttp.NewHandler(dispatcher, operationName, otelOpts...))

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(opts.CORSOrigins, extraAllowedHeaders...),
	}
	if opts.RateLimiter != nil {
		chain = append(chain, middleware.RateLimitMiddleware(opts.RateLimiter, opts.RateLimitConfig, logger))
	}

	return httputil.Chain(chain...)(router)
}

// NewHealthMux serves the probes and, when registry is set, Prometheus metrics
func NewHealthMux(checker *observability.HealthChecker, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	if registry != nil {
		mux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	return mux
}
