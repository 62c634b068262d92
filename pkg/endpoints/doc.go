// Package endpoints holds the REST handlers the frontend serves itself:
// login, token checks and the caller's permission list. They are bound on a
// rest.Dispatcher like any business endpoint.
package endpoints
