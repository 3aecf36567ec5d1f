// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs the real HTTP server against a fake sandbox and a SQLite file store

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolshed/internal/config"
)

// testConfig returns a config pointing at sandboxURL with the background
// scheduler disabled.
func testConfig(t *testing.T, sandboxURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Database.Path = filepath.Join(t.TempDir(), "toolshed.db")
	cfg.Executor.DefaultURL = sandboxURL
	cfg.Health.Enabled = false
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayNew(t *testing.T) {
	sandbox := httptest.NewServer(newFakeSandbox())
	t.Cleanup(sandbox.Close)
	cfg := testConfig(t, sandbox.URL)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.Handler())
	assert.FileExists(t, cfg.Database.Path)
}

func TestGatewayNew_EnvDBPath(t *testing.T) {
	sandbox := httptest.NewServer(newFakeSandbox())
	t.Cleanup(sandbox.Close)
	cfg := testConfig(t, sandbox.URL)

	override := filepath.Join(t.TempDir(), "override.db")
	t.Setenv(EnvDBPath, override)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	assert.FileExists(t, override)
	assert.NoFileExists(t, cfg.Database.Path)
}

func TestGatewayNew_WeakJWTSecret(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, testLogger())
	assert.Error(t, err)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	sandbox := httptest.NewServer(newFakeSandbox())
	t.Cleanup(sandbox.Close)
	cfg := testConfig(t, sandbox.URL)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	url := "http://" + cfg.Server.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(url + "/health/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down in time")
	}
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	sandbox := httptest.NewServer(newFakeSandbox())
	t.Cleanup(sandbox.Close)
	cfg := testConfig(t, sandbox.URL)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	assert.Error(t, gw.Run(t.Context()))
}

func TestHealthEndpoint(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	rec := serve(t, gw, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("sandbox healthy", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)
		rec := serve(t, gw, http.MethodGet, "/health/ready", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", rec.Body.String())
	})

	t.Run("sandbox degraded", func(t *testing.T) {
		gw, _, sandbox := newTestGateway(t)
		sandbox.setStatus("degraded")
		rec := serve(t, gw, http.MethodGet, "/health/ready", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "degraded")
	})

	t.Run("sandbox unreachable", func(t *testing.T) {
		cfg := testConfig(t, deadURL(t))
		gw := buildTestGateway(t, cfg)
		rec := serve(t, gw, http.MethodGet, "/health/ready", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "sandbox unavailable")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	rec := serve(t, gw, http.MethodPost, "/api/executors/verify", VerifyExecutorRequest{URL: "not a url"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	serve(t, gw, http.MethodGet, "/health/ready", nil, "")

	rec = serve(t, gw, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolshed_executor_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	sandbox := httptest.NewServer(newFakeSandbox())
	t.Cleanup(sandbox.Close)
	cfg := testConfig(t, sandbox.URL)
	cfg.Metrics.Enabled = false
	gw := buildTestGateway(t, cfg)

	rec := serve(t, gw, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
