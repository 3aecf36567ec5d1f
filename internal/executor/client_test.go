// ABOUTME: Tests for the executor HTTP client
// ABOUTME: Covers the wire protocol and classification of every failure kind

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(sandboxURL string) *Client {
	return NewClient(ClientConfig{Sandbox: Target{BaseURL: sandboxURL, APIKey: "sandbox-key"}})
}

func jsonServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// hangingServer accepts requests and never answers until the client gives up.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestIntrospect_Success(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/load-and-describe", r.URL.Path)
		assert.Equal(t, "Bearer sandbox-key", r.Header.Get("Authorization"))

		var req IntrospectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "@acme/tools", req.PackageName)
		assert.Equal(t, "formatDate", req.ExportName)

		_, _ = w.Write([]byte(`{"success":true,"tool":{"description":"Formats a date","inputSchema":{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}}}`))
	})

	desc, err := newTestClient(srv.URL).Introspect(context.Background(), IntrospectRequest{
		PackageName: "@acme/tools",
		ExportName:  "formatDate",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "Formats a date", desc.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}`, string(desc.InputSchema))
}

func TestIntrospect_LoadFailure(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"Cannot find module"}`))
	})

	_, err := newTestClient(srv.URL).Introspect(context.Background(), IntrospectRequest{PackageName: "x", ExportName: "y"})
	require.Error(t, err)
	assert.Equal(t, KindExecutionFailure, KindOf(err))
	assert.Contains(t, err.Error(), "Cannot find module")
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
		kind    ErrorKind
	}{
		{name: "ok", status: 200, body: `{"status":"ok","version":"1.2.0"}`, healthy: true},
		{name: "healthy", status: 200, body: `{"status":"healthy"}`, healthy: true},
		{name: "degraded", status: 200, body: `{"status":"degraded"}`, healthy: false},
		{name: "server error", status: 503, body: `{"error":"down"}`, kind: KindHTTP5xx},
		{name: "unauthorized", status: 401, body: `{"error":"bad key"}`, kind: KindHTTP4xx},
		{name: "garbage", status: 200, body: `<html>`, kind: KindInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := newTestClient("http://sandbox.invalid").HealthCheck(context.Background(), Target{BaseURL: srv.URL})
			if tt.kind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.kind, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.healthy, status.Healthy)
		})
	}
}

func TestExecute_Success(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, "Bearer custom-key", r.Header.Get("Authorization"))

		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2024-01-01", req.Args["date"])

		_, _ = w.Write([]byte(`{"success":true,"output":"Jan 1, 2024"}`))
	})

	result, err := newTestClient("http://sandbox.invalid").Execute(context.Background(),
		Target{BaseURL: srv.URL, APIKey: "custom-key"},
		ExecuteRequest{PackageName: "@acme/tools", ExportName: "formatDate", Args: map[string]any{"date": "2024-01-01"}},
	)
	require.NoError(t, err)
	assert.JSONEq(t, `"Jan 1, 2024"`, string(result.Output))
}

func TestExecute_ToolError(t *testing.T) {
	srv := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"date is required"}`))
	})

	_, err := newTestClient(srv.URL).Execute(context.Background(), Target{BaseURL: srv.URL}, ExecuteRequest{PackageName: "p", ExportName: "e"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionFailure)
	assert.Contains(t, err.Error(), "date is required")
}

func TestExecute_ClassifiesFailures(t *testing.T) {
	notFound := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no such route"}`))
	})
	missingOutput := jsonServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	client := newTestClient("http://sandbox.invalid")
	req := ExecuteRequest{PackageName: "p", ExportName: "e"}

	_, err := client.Execute(context.Background(), Target{BaseURL: notFound.URL}, req)
	assert.ErrorIs(t, err, ErrHTTP4xx)
	var execErr *Error
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, http.StatusNotFound, execErr.StatusCode)
	assert.Contains(t, execErr.Message, "no such route")

	_, err = client.Execute(context.Background(), Target{BaseURL: missingOutput.URL}, req)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = client.Execute(context.Background(), Target{BaseURL: deadURL(t)}, req)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestExecute_TimeoutIsDistinctFromNetwork(t *testing.T) {
	client := newTestClient("http://sandbox.invalid")
	req := ExecuteRequest{PackageName: "p", ExportName: "e"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Execute(ctx, Target{BaseURL: hangingServer(t).URL}, req)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.False(t, errors.Is(err, ErrNetwork))

	start := time.Now()
	_, err = client.Execute(context.Background(), Target{BaseURL: deadURL(t)}, req)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Less(t, time.Since(start), DefaultExecuteTimeout, "refused connections fail fast")
}

func TestExecute_ClientTimeoutBound(t *testing.T) {
	client := NewClient(ClientConfig{ExecuteTimeout: 50 * time.Millisecond})

	_, err := client.Execute(context.Background(), Target{BaseURL: hangingServer(t).URL}, ExecuteRequest{PackageName: "p", ExportName: "e"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecute_CanceledByCaller(t *testing.T) {
	client := newTestClient("http://sandbox.invalid")
	srv := hangingServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := client.Execute(ctx, Target{BaseURL: srv.URL}, ExecuteRequest{PackageName: "p", ExportName: "e"})
	require.Error(t, err)
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}
