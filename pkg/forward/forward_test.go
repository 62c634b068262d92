package forward

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/platinummonkey/appmesh/pkg/rest"
	"github.com/platinummonkey/appmesh/pkg/rest/resttest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startUpstream serves upstream on a loopback listener for the test lifetime.
func startUpstream(t *testing.T, upstream *rest.Dispatcher) *Server {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	server, err := NewServer(upstream, WithServerLogger(logger), WithIdleTimeout(5*time.Second))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("upstream server did not stop")
		}
	})

	require.Eventually(t, func() bool { return server.Addr() != nil }, time.Second, 5*time.Millisecond)
	return server
}

func TestFrameEncoding(t *testing.T) {
	req, _ := resttest.NewRequest(http.MethodPost, "/appmesh/app/demo", "Authorization", "Bearer abc")
	req.Query.Set("timeout", "5")
	req.Body = []byte(`{"cmd":"ls"}`)
	req.WithContext(contextkeys.WithRequestID(req.Context(), "req-1"))

	frame := NewRequestFrame(req)
	require.NotEmpty(t, frame.ID)
	assert.Equal(t, "req-1", frame.RequestID)

	data, err := marshal(frame)
	require.NoError(t, err)
	again, err := marshal(frame)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")

	var decoded RequestFrame
	require.NoError(t, unmarshal(data, &decoded))

	rebuilt := decoded.Request(context.Background(), nil)
	assert.Equal(t, http.MethodPost, rebuilt.Method)
	assert.Equal(t, "/appmesh/app/demo", rebuilt.RelativeURI)
	assert.Equal(t, "Bearer abc", rebuilt.Header("authorization"))
	assert.Equal(t, "5", rebuilt.Query.Get("timeout"))
	assert.Equal(t, `{"cmd":"ls"}`, string(rebuilt.Body))
	assert.Equal(t, "127.0.0.1:50000", rebuilt.RemoteAddress)
	assert.Equal(t, "req-1", contextkeys.GetRequestID(rebuilt.Context()))
}

func TestForward_RoundTrip(t *testing.T) {
	upstream := rest.NewDispatcher()
	upstream.Bind(http.MethodGet, "/appmesh/app/.*", func(req *rest.Request) error {
		return req.ReplyJSON(http.StatusOK, map[string]string{
			"path":  req.RelativeURI,
			"auth":  req.Header("Authorization"),
			"query": req.Query.Get("name"),
		})
	})
	upstream.Bind(http.MethodPost, "/appmesh/echo", func(req *rest.Request) error {
		return req.Reply(http.StatusAccepted, string(req.Body))
	})
	server := startUpstream(t, upstream)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	client := NewClient(server.Addr().String(), WithClientMetrics(metrics))
	front := rest.NewDispatcher(rest.WithForwarder(client))

	t.Run("json reply relayed", func(t *testing.T) {
		req, rec := resttest.NewRequest(http.MethodGet, "/appmesh/app/sleep", "Authorization", "Bearer tok")
		req.Query.Set("name", "sleep")

		front.Dispatch(req)

		require.Equal(t, 1, rec.Count())
		reply := rec.Last()
		assert.Equal(t, http.StatusOK, reply.Status)
		assert.Equal(t, rest.ContentTypeJSON, reply.ContentType)
		assert.JSONEq(t, `{"path":"/appmesh/app/sleep","auth":"Bearer tok","query":"sleep"}`, reply.Body)
	})

	t.Run("body relayed", func(t *testing.T) {
		req, rec := resttest.NewRequest(http.MethodPost, "/appmesh/echo")
		req.Body = []byte("payload")

		front.Dispatch(req)

		assert.Equal(t, resttest.Reply{Status: http.StatusAccepted, ContentType: rest.ContentTypeText, Body: "payload"}, rec.Last())
	})

	t.Run("upstream not found relayed", func(t *testing.T) {
		req, rec := resttest.NewRequest(http.MethodGet, "/appmesh/unknown")

		front.Dispatch(req)

		assert.Equal(t, http.StatusNotFound, rec.Last().Status)
		assert.Equal(t, rest.NotFoundMessage, rec.Last().Body)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardRequestsTotal.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardRequestsTotal.WithLabelValues("202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardRequestsTotal.WithLabelValues("404")))
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	client := NewClient(addr, WithTimeout(time.Second), WithClientMetrics(metrics))
	front := rest.NewDispatcher(rest.WithForwarder(client))

	req, rec := resttest.NewRequest(http.MethodGet, "/appmesh/applications")
	front.Dispatch(req)

	require.Equal(t, 1, rec.Count())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Last().Status)
	assert.Contains(t, rec.Last().Body, "unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardRequestsTotal.WithLabelValues("error")))
}

func TestForward_FileRoutesServedLocally(t *testing.T) {
	client := NewClient("127.0.0.1:1")
	front := rest.NewDispatcher(rest.WithForwarder(client))
	front.Bind(http.MethodGet, "/appmesh/file/download", func(req *rest.Request) error {
		return req.Reply(http.StatusOK, "local")
	})

	req, rec := resttest.NewRequest(http.MethodGet, "/appmesh/file/download")
	front.Dispatch(req)

	assert.Equal(t, "local", rec.Last().Body)
}

func TestServer_NoReply(t *testing.T) {
	upstream := rest.NewDispatcher()
	upstream.Bind(http.MethodGet, "/appmesh/silent", func(req *rest.Request) error {
		return nil
	})
	server := startUpstream(t, upstream)

	resp, err := NewClient(server.Addr().String()).RoundTrip(context.Background(), RequestFrame{
		ID:     "frame-1",
		Method: http.MethodGet,
		Path:   "/appmesh/silent",
	})
	require.NoError(t, err)
	assert.Equal(t, "frame-1", resp.ID)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, NoReplyMessage, string(resp.Body))
}

func TestServer_MultipleFramesPerConnection(t *testing.T) {
	upstream := rest.NewDispatcher()
	upstream.Bind(http.MethodGet, "/appmesh/ping", func(req *rest.Request) error {
		return req.Reply(http.StatusOK, "pong")
	})
	server := startUpstream(t, upstream)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	enc, dec := newEncoder(conn), newDecoder(conn)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, enc.Encode(RequestFrame{ID: id, Method: http.MethodGet, Path: "/appmesh/ping"}))

		var resp ResponseFrame
		require.NoError(t, dec.Decode(&resp))
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, "pong", string(resp.Body))
	}
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)

	_, err = NewServer(rest.NewDispatcher(rest.WithForwarder(NewClient("127.0.0.1:1"))))
	assert.Error(t, err)
}

func TestServer_Close(t *testing.T) {
	server, err := NewServer(rest.NewDispatcher())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background(), ln) }()

	// an idle connection must not hold Serve open after Close
	require.Eventually(t, func() bool { return server.Addr() != nil }, time.Second, 5*time.Millisecond)
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, server.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}

	assert.ErrorIs(t, server.Serve(context.Background(), mustListen(t)), net.ErrClosed)
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// fakeUpstream answers every frame with respond, or never when respond is nil.
func fakeUpstream(t *testing.T, respond func(RequestFrame) ResponseFrame) string {
	t.Helper()
	ln := mustListen(t)

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				var frame RequestFrame
				if err := newDecoder(conn).Decode(&frame); err != nil {
					return
				}
				if respond == nil {
					_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
					_, _ = conn.Read(make([]byte, 1))
					return
				}
				_ = newEncoder(conn).Encode(respond(frame))
			}()
		}
	}()
	return ln.Addr().String()
}

func TestClient_FrameIDMismatch(t *testing.T) {
	addr := fakeUpstream(t, func(f RequestFrame) ResponseFrame {
		return ResponseFrame{ID: "someone-else", Status: http.StatusOK}
	})

	_, err := NewClient(addr).RoundTrip(context.Background(), RequestFrame{ID: "mine", Method: http.MethodGet, Path: "/"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected \"mine\"")
}

func TestClient_ContextDeadline(t *testing.T) {
	addr := fakeUpstream(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(addr, WithTimeout(10*time.Second)).RoundTrip(ctx, RequestFrame{ID: "slow", Method: http.MethodGet, Path: "/"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
