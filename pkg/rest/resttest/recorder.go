// Package resttest provides helpers for testing rest handlers.
package resttest

import (
	"context"
	"sync"

	"github.com/platinummonkey/appmesh/pkg/rest"
)

// Reply is one reply captured by a Recorder.
type Reply struct {
	Status      int
	ContentType string
	Body        string
}

// Recorder is a rest.Replier that keeps every reply it receives.
type Recorder struct {
	mu      sync.Mutex
	replies []Reply
}

// Reply implements rest.Replier.
func (r *Recorder) Reply(status int, contentType, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, Reply{Status: status, ContentType: contentType, Body: body})
	return nil
}

// Replies returns a copy of the captured replies.
func (r *Recorder) Replies() []Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Reply, len(r.replies))
	copy(out, r.replies)
	return out
}

// Count returns the number of delivered replies.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies)
}

// Last returns the most recent reply, or the zero Reply.
func (r *Recorder) Last() Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return Reply{}
	}
	return r.replies[len(r.replies)-1]
}

// NewRequest builds a request answered through a fresh Recorder.
// headers are given as name/value pairs.
func NewRequest(method, path string, headers ...string) (*rest.Request, *Recorder) {
	rec := &Recorder{}
	req := rest.NewRequest(context.Background(), method, path, rec)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Headers.Set(headers[i], headers[i+1])
	}
	req.RemoteAddress = "127.0.0.1:50000"
	return req, rec
}
