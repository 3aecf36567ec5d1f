// ABOUTME: HTTP client for the executor wire protocol: introspect, health and execute.
// ABOUTME: Every failure is returned as an *Error with a stable kind.

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/2389/toolshed/internal/metrics"
)

// Default per-operation upper bounds. Callers may pass a shorter deadline on ctx.
const (
	DefaultHealthTimeout     = 5 * time.Second
	DefaultIntrospectTimeout = 30 * time.Second
	DefaultExecuteTimeout    = 60 * time.Second
)

// MaxResponseBodySize caps how much of an executor response is read.
const MaxResponseBodySize = 4 << 20

// Target is an executor endpoint plus its credentials.
type Target struct {
	BaseURL string
	APIKey  string
}

// IntrospectRequest asks the sandbox to load a package export and describe it.
type IntrospectRequest struct {
	PackageName string            `json:"packageName"`
	ExportName  string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
}

// Description is what a successful introspection reports about a tool.
type Description struct {
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Description string          `json:"description,omitempty"`
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Healthy  bool   `json:"healthy"`
	Status   string `json:"status,omitempty"`
	Version  string `json:"version,omitempty"`
	Duration time.Duration
}

// ExecuteRequest runs one tool export with arguments.
type ExecuteRequest struct {
	PackageName string            `json:"packageName"`
	ExportName  string            `json:"name"`
	Version     string            `json:"version,omitempty"`
	Args        map[string]any    `json:"args"`
	Env         map[string]string `json:"env,omitempty"`
}

// ExecuteResult is a successful tool run.
type ExecuteResult struct {
	Output   json.RawMessage
	Duration time.Duration
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Sandbox is the shared default executor. It is the only target used
	// for introspection.
	Sandbox           Target
	HTTPClient        *http.Client
	HealthTimeout     time.Duration
	IntrospectTimeout time.Duration
	ExecuteTimeout    time.Duration
	UserAgent         string
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Client speaks the executor wire protocol.
type Client struct {
	sandbox           Target
	http              *http.Client
	healthTimeout     time.Duration
	introspectTimeout time.Duration
	executeTimeout    time.Duration
	userAgent         string
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

// NewClient creates a Client, filling unset timeouts with the defaults.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		sandbox:           cfg.Sandbox,
		http:              cfg.HTTPClient,
		healthTimeout:     cfg.HealthTimeout,
		introspectTimeout: cfg.IntrospectTimeout,
		executeTimeout:    cfg.ExecuteTimeout,
		userAgent:         cfg.UserAgent,
		logger:            cfg.Logger,
		metrics:           cfg.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.healthTimeout <= 0 {
		c.healthTimeout = DefaultHealthTimeout
	}
	if c.introspectTimeout <= 0 {
		c.introspectTimeout = DefaultIntrospectTimeout
	}
	if c.executeTimeout <= 0 {
		c.executeTimeout = DefaultExecuteTimeout
	}
	if c.userAgent == "" {
		c.userAgent = "toolshed"
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "executor")
	return c
}

// Sandbox returns the default executor target.
func (c *Client) Sandbox() Target {
	return c.sandbox
}

// Introspect loads a package export in the sandbox and returns its description.
func (c *Client) Introspect(ctx context.Context, req IntrospectRequest) (*Description, error) {
	ctx, cancel := context.WithTimeout(ctx, c.introspectTimeout)
	defer cancel()

	var resp struct {
		Success *bool        `json:"success"`
		Tool    *Description `json:"tool"`
		Error   string       `json:"error"`
	}
	start := time.Now()
	err := c.doJSON(ctx, "introspect", c.sandbox, http.MethodPost, "/load-and-describe", req, &resp)
	if err == nil {
		switch {
		case resp.Success != nil && !*resp.Success:
			err = &Error{Kind: KindExecutionFailure, Op: "introspect", Message: orDefault(resp.Error, "load failed")}
		case resp.Tool == nil:
			err = &Error{Kind: KindInvalidResponse, Op: "introspect", Message: "missing tool field"}
		}
	}
	c.metrics.ObserveExecutor("introspect", "default", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return resp.Tool, nil
}

// HealthCheck probes GET /health. Any 200 response whose status is "ok" or
// "healthy" counts as healthy; a readable non-healthy status is returned
// without an error.
func (c *Client) HealthCheck(ctx context.Context, target Target) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	start := time.Now()
	err := c.doJSON(ctx, "health", target, http.MethodGet, "/health", nil, &resp)
	elapsed := time.Since(start)
	c.metrics.ObserveExecutor("health", targetLabel(c, target), elapsed, err)
	if err != nil {
		return nil, err
	}
	status := strings.ToLower(strings.TrimSpace(resp.Status))
	return &HealthStatus{
		Healthy:  status == "ok" || status == "healthy",
		Status:   resp.Status,
		Version:  resp.Version,
		Duration: elapsed,
	}, nil
}

// Execute runs a tool on target. A well-formed failure reported by the
// executor is returned as KindExecutionFailure.
func (c *Client) Execute(ctx context.Context, target Target, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	if req.Args == nil {
		req.Args = map[string]any{}
	}
	var resp struct {
		Success *bool           `json:"success"`
		Output  json.RawMessage `json:"output"`
		Error   *string         `json:"error"`
	}
	start := time.Now()
	err := c.doJSON(ctx, "execute", target, http.MethodPost, "/execute", req, &resp)
	elapsed := time.Since(start)
	if err == nil {
		switch {
		case resp.Error != nil || (resp.Success != nil && !*resp.Success):
			msg := "execution failed"
			if resp.Error != nil && *resp.Error != "" {
				msg = *resp.Error
			}
			err = &Error{Kind: KindExecutionFailure, Op: "execute", Message: msg}
		case resp.Output == nil:
			err = &Error{Kind: KindInvalidResponse, Op: "execute", Message: "missing output field"}
		}
	}
	c.metrics.ObserveExecutor("execute", targetLabel(c, target), elapsed, err)
	if err != nil {
		c.logger.Debug("execute failed",
			"package", req.PackageName,
			"export", req.ExportName,
			"kind", KindOf(err),
			"duration_ms", elapsed.Milliseconds(),
		)
		return nil, err
	}
	return &ExecuteResult{Output: resp.Output, Duration: elapsed}, nil
}

// doJSON sends body (if any) and decodes a 2xx JSON response into out.
// The request env is never logged.
func (c *Client) doJSON(ctx context.Context, op string, target Target, method, path string, body any, out any) error {
	base, err := ValidateURL(target.BaseURL)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	endpoint := strings.TrimRight(base.String(), "/") + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindInvalidResponse, Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if target.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(op, ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize))
	if err != nil {
		return classifyTransport(op, ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(op, resp.StatusCode, errorMessage(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindInvalidResponse, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a failed response body when present.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func targetLabel(c *Client, t Target) string {
	if t.BaseURL == c.sandbox.BaseURL {
		return "default"
	}
	return "custom"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
