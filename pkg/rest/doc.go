// Package rest is the request dispatch core of the App Mesh REST service.
//
// A Dispatcher keeps one route table per HTTP verb. Handlers are bound at
// startup:
//
//	d := rest.NewDispatcher(rest.WithLogger(logger))
//	d.Bind(http.MethodGet, "/appmesh/applications", listApps)
//	d.Bind(http.MethodGet, "/appmesh/app/[^/]+", getApp)
//
// Patterns are literal paths or RE2 expressions that must match the whole
// path. A literal match wins over regex patterns, which are tried in
// lexicographic order.
//
// Every request is answered exactly once. The dispatcher replies itself for
// the root path, unknown paths, handler errors and panics. When a Forwarder
// is configured every request outside FileRoutePrefix is handed to it
// instead.
package rest
