package server

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/api/middleware"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.ShutdownTimeoutMS = 1000
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestNewServerRejectsBadLogLevel(t *testing.T) {
	cfg := testConfig()
	cfg.Logging.Level = "loud"
	_, err := NewServer(cfg)
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	for _, path := range []string{"/", "/health", "/v1/pool", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader), path)
	}
}

func TestCompression(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	// populate the request histograms so the exposition exceeds the gzip minimum size
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultTransport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(body), "webviewrpc_uptime_seconds")
}

func TestRegistrationThroughServer(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	page := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<title>srv</title>"), 0o644))

	body := `{"pool_key":"k","src":"file://` + page + `","script":"({ title: function () { return document.title; } })","wait":true}`
	resp, err := http.Post(ts.URL+"/v1/registrations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/registrations/1/request", "application/json", strings.NewReader(`{"method":"title"}`))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"result":"srv"}`, string(data))

	assert.Equal(t, 1, s.Coordinator().Stats().Pool.Size)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(data), `webviewrpc_registrations_total{outcome="resolved"} 1`)
	assert.Contains(t, string(data), "webviewrpc_contexts 1")
}

func TestRunAndShutdown(t *testing.T) {
	s, err := NewServer(testConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
