package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/appmesh/pkg/contextkeys"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Len(t, seen, 36)
		assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "caller-id")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "caller-id", seen)
		assert.Equal(t, "caller-id", rr.Header().Get(RequestIDHeader))
	})
}

func TestLoggingMiddleware(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	handler := Chain(RequestIDMiddleware, LoggingMiddleware(logger))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/appmesh/login", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "request served", entry.Message)
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
	assert.Equal(t, "/appmesh/login", entry.Data["path"])
	assert.Equal(t, "rid-1", entry.Data["request_id"])
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "kaboom", hook.LastEntry().Data["panic"])
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://console.example.com"}, "Expire-Seconds")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name      string
		method    string
		origin    string
		wantAllow string
	}{
		{"allowed origin", http.MethodGet, "https://console.example.com", "https://console.example.com"},
		{"other origin", http.MethodGet, "https://evil.example.com", ""},
		{"no origin", http.MethodGet, "", ""},
		{"preflight reaches handler", http.MethodOptions, "https://console.example.com", "https://console.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/appmesh/applications", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantAllow, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllow != "" {
				assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Expire-Seconds")
			}
		})
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	handler := CORSMiddleware([]string{"*"})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://any.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://any.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
