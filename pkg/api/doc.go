// Package api wires the REST dispatcher into net/http.
//
// NewRouter mounts a rest.Dispatcher under a gorilla/mux router that leaves
// request paths uncleaned, so the dispatcher sees "//appmesh//login" exactly
// as sent. The router is wrapped with request IDs, structured request logs,
// panic recovery, CORS, an optional per-address rate limit and otelhttp
// tracing.
//
// NewHealthMux serves /health, /health/live, /health/ready and /metrics on
// the separate health port.
//
// Server runs both listeners until its context ends and then drains them
// through an observability.ShutdownManager:
//
//	srv := api.NewServer(cfg.Server, router, api.NewHealthMux(checker, registry),
//		api.WithLogger(logger), api.WithShutdownManager(shutdown))
//	if err := srv.ListenAndServe(ctx); err != nil {
//		logger.WithError(err).Fatal("server failed")
//	}
package api
