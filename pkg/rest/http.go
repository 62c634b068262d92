package rest

import (
	"net/http"

	"github.com/platinummonkey/appmesh/pkg/observability"
)

// ServeHTTP adapts the dispatcher to net/http. The request path is used as is
// so the dispatcher sees un-cleaned paths such as "//v1//ping".
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := NewHTTPRequest(w, r, d.maxBodyBytes)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("rejecting request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.Dispatch(req)
}
