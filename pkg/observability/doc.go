// Package observability holds the logging, metrics, tracing, health and
// shutdown plumbing shared by the REST frontend.
//
// Logging is logrus throughout. Components take a logrus.FieldLogger and
// fall back to a discarding logger when none is given:
//
//	logger := observability.NewLogger("info", observability.FormatJSON, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("dispatching")
//
// Prometheus metrics are registered on a caller supplied registry. A nil
// *Metrics records nothing:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	mux.Handle("/metrics", observability.MetricsHandler(registry))
//
// Health probes cover the SQL user directory, the redis rate limiter store
// and the upstream daemon:
//
//	checker := observability.NewHealthChecker(
//		observability.WithDatabase(db),
//		observability.WithUpstream("127.0.0.1:6059"),
//	)
//	observability.RegisterHealthRoutes(mux, checker)
//
// InitOTel installs OTLP exporters as the global OpenTelemetry providers.
package observability
