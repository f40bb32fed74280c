package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/email-sender/pkg/config"
	"github.com/telekom/email-sender/pkg/system"
	"github.com/telekom/email-sender/pkg/version"
)

func newTestServer(t *testing.T, cfg config.Server, queue Enqueuer) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	server := NewServer(system.NewTestZapLogger(t), cfg, false, queue)
	t.Cleanup(server.Close)
	return server
}

func TestServer_Health(t *testing.T) {
	server := newTestServer(t, config.Server{}, &fakeQueue{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestServer_Version(t *testing.T) {
	origVersion := version.Version
	defer func() { version.Version = origVersion }()
	version.Version = "v9.9.9"

	server := newTestServer(t, config.Server{}, &fakeQueue{})

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "v9.9.9", info.Version)
}

func TestServer_Metrics(t *testing.T) {
	server := newTestServer(t, config.Server{}, &fakeQueue{})

	// one intake request so the counter has a sample
	server.Handler().ServeHTTP(httptest.NewRecorder(), postJSON(t, validBody()))

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "email_sender_intake_requests_total")
}

func TestServer_RequestID(t *testing.T) {
	server := newTestServer(t, config.Server{}, &fakeQueue{})

	t.Run("generated when missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("propagated when valid", func(t *testing.T) {
		id := uuid.NewString()
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, id)
		server.Handler().ServeHTTP(w, req)
		assert.Equal(t, id, w.Header().Get(RequestIDHeader))
	})

	t.Run("replaced when garbage", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, "<script>")
		server.Handler().ServeHTTP(w, req)
		assert.NotEqual(t, "<script>", w.Header().Get(RequestIDHeader))
	})
}

func TestServer_RateLimitsIntake(t *testing.T) {
	queue := &fakeQueue{}
	server := newTestServer(t, config.Server{RateLimit: config.RateLimit{Rate: 1, Burst: 2}}, queue)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := postJSON(t, validBody())
		req.RemoteAddr = "192.168.1.1:12345"
		server.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.Len(t, queue.requests(), 2)

	// health checks are never limited
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ListenAndShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	server := newTestServer(t, config.Server{ListenAddress: addr, ShutdownTimeout: time.Second}, &fakeQueue{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ListenFailsOnBusyAddress(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	server := newTestServer(t, config.Server{ListenAddress: l.Addr().String()}, &fakeQueue{})
	assert.Error(t, server.Listen(context.Background()))
}
