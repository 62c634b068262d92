package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/platinummonkey/appmesh/pkg/observability"
)

// ErrAlreadyReplied is returned by Reply when the request was already answered.
var ErrAlreadyReplied = errors.New("request already replied")

// Content types used by the reply helpers
const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// Replier is the one-shot sink a request is answered through.
type Replier interface {
	Reply(status int, contentType, body string) error
}

// ReplierFunc adapts a function to Replier.
type ReplierFunc func(status int, contentType, body string) error

// Reply calls f.
func (f ReplierFunc) Reply(status int, contentType, body string) error {
	return f(status, contentType, body)
}

// Request is a single REST request as seen by the dispatcher and handlers.
// Headers must be populated through http.Header.Set/Add so lookups are
// case-insensitive.
type Request struct {
	Method        string
	RelativeURI   string
	Query         url.Values
	Headers       http.Header
	RemoteAddress string
	Body          []byte

	ctx     context.Context
	replier Replier
	replied atomic.Bool
}

// NewRequest creates a request answered through replier.
func NewRequest(ctx context.Context, method, relativeURI string, replier Replier) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{
		Method:      method,
		RelativeURI: relativeURI,
		Query:       url.Values{},
		Headers:     http.Header{},
		ctx:         ctx,
		replier:     replier,
	}
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	return r.ctx
}

// WithContext replaces the request context.
func (r *Request) WithContext(ctx context.Context) {
	if ctx != nil {
		r.ctx = ctx
	}
}

// Header returns the first value of the named header, case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers.Get(name)
}

// Replied reports whether the request has been answered.
func (r *Request) Replied() bool {
	return r.replied.Load()
}

// Reply answers the request with a text body. An empty body sends no
// Content-Type.
func (r *Request) Reply(status int, body string) error {
	contentType := ContentTypeText
	if body == "" {
		contentType = ""
	}
	return r.reply(status, contentType, body)
}

// ReplyJSON answers the request with v encoded as JSON.
func (r *Request) ReplyJSON(status int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	return r.reply(status, ContentTypeJSON, string(data))
}

// ReplyContent answers the request with an explicit content type, as relayed
// from an upstream response.
func (r *Request) ReplyContent(status int, contentType, body string) error {
	return r.reply(status, contentType, body)
}

func (r *Request) reply(status int, contentType, body string) error {
	if !r.replied.CompareAndSwap(false, true) {
		observability.FromContext(r.ctx).
			WithField("path", r.RelativeURI).
			WithField("status", status).
			Error("duplicate reply suppressed")
		return ErrAlreadyReplied
	}
	if r.replier == nil {
		return nil
	}
	return r.replier.Reply(status, contentType, body)
}

// responseReplier writes replies to a net/http response.
type responseReplier struct {
	w http.ResponseWriter
}

func (rr responseReplier) Reply(status int, contentType, body string) error {
	if contentType != "" {
		rr.w.Header().Set("Content-Type", contentType)
	}
	rr.w.WriteHeader(status)
	if body == "" {
		return nil
	}
	_, err := io.WriteString(rr.w, body)
	return err
}

// NewHTTPRequest builds a Request from a net/http request. The body is read
// eagerly, limited to maxBodyBytes when positive.
func NewHTTPRequest(w http.ResponseWriter, r *http.Request, maxBodyBytes int64) (*Request, error) {
	req := NewRequest(r.Context(), r.Method, r.URL.Path, responseReplier{w: w})
	req.Query = r.URL.Query()
	req.Headers = r.Header.Clone()
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.RemoteAddress = r.RemoteAddr

	if r.Body != nil {
		body := io.Reader(r.Body)
		if maxBodyBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = data
	}

	return req, nil
}
