package forward

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/platinummonkey/appmesh/pkg/rest"
)

// RequestFrame carries one REST request to the upstream daemon.
type RequestFrame struct {
	ID            string              `cbor:"id"`
	RequestID     string              `cbor:"request_id,omitempty"`
	Method        string              `cbor:"method"`
	Path          string              `cbor:"path"`
	Query         map[string][]string `cbor:"query,omitempty"`
	Headers       map[string][]string `cbor:"headers,omitempty"`
	RemoteAddress string              `cbor:"remote_address,omitempty"`
	Body          []byte              `cbor:"body,omitempty"`
}

// ResponseFrame is the upstream reply to the RequestFrame with the same ID.
type ResponseFrame struct {
	ID          string `cbor:"id"`
	Status      int    `cbor:"status"`
	ContentType string `cbor:"content_type,omitempty"`
	Body        []byte `cbor:"body,omitempty"`
}

// NewRequestFrame captures req under a fresh frame ID.
func NewRequestFrame(req *rest.Request) RequestFrame {
	return RequestFrame{
		ID:            uuid.NewString(),
		RequestID:     contextkeys.GetRequestID(req.Context()),
		Method:        req.Method,
		Path:          req.RelativeURI,
		Query:         req.Query,
		Headers:       req.Headers,
		RemoteAddress: req.RemoteAddress,
		Body:          req.Body,
	}
}

// Request rebuilds the REST request on the upstream side.
func (f RequestFrame) Request(ctx context.Context, replier rest.Replier) *rest.Request {
	if f.RequestID != "" {
		ctx = contextkeys.WithRequestID(ctx, f.RequestID)
	}
	req := rest.NewRequest(ctx, f.Method, f.Path, replier)
	req.Query = url.Values(f.Query)
	if req.Query == nil {
		req.Query = url.Values{}
	}
	// canonicalise keys so lookups stay case-insensitive
	for name, values := range f.Headers {
		for _, v := range values {
			req.Headers.Add(name, v)
		}
	}
	req.RemoteAddress = f.RemoteAddress
	req.Body = f.Body
	return req
}
