// ABOUTME: Verification handshake for custom executor URLs
// ABOUTME: Health probe plus a known-safe test execution, reported item by item

package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/metrics"
)

const (
	DefaultHealthTimeout = 5 * time.Second
	DefaultTestTimeout   = 20 * time.Second

	SamplePackage = "@toolshed/echo"
	SampleExport  = "echo"
)

// SampleArgs is the input sent with the test execution.
func SampleArgs() map[string]any {
	return map[string]any{"message": "ping"}
}

// Prober is the part of the executor client verification needs.
type Prober interface {
	HealthCheck(ctx context.Context, target executor.Target) (*executor.HealthStatus, error)
	Execute(ctx context.Context, target executor.Target, req executor.ExecuteRequest) (*executor.ExecuteResult, error)
}

// HealthCheckResult is the outcome of the health probe.
type HealthCheckResult struct {
	Healthy    bool   `json:"healthy"`
	Status     string `json:"status,omitempty"`
	Version    string `json:"version,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// TestExecutionResult is the outcome of running the sample tool.
type TestExecutionResult struct {
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// Result is a point-in-time verdict on an executor. It is never stored.
type Result struct {
	Valid         bool                 `json:"valid"`
	HealthCheck   *HealthCheckResult   `json:"healthCheck,omitempty"`
	TestExecution *TestExecutionResult `json:"testExecution,omitempty"`
	Errors        []string             `json:"errors"`
}

// Config contains configuration options for the Verifier.
type Config struct {
	Prober        Prober
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	HealthTimeout time.Duration
	TestTimeout   time.Duration
}

// Verifier runs the verification handshake.
type Verifier struct {
	prober        Prober
	logger        *slog.Logger
	metrics       *metrics.Metrics
	healthTimeout time.Duration
	testTimeout   time.Duration
}

// New creates a Verifier.
func New(cfg Config) *Verifier {
	v := &Verifier{
		prober:        cfg.Prober,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		healthTimeout: cfg.HealthTimeout,
		testTimeout:   cfg.TestTimeout,
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.logger = v.logger.With("component", "verify")
	if v.healthTimeout <= 0 {
		v.healthTimeout = DefaultHealthTimeout
	}
	if v.testTimeout <= 0 {
		v.testTimeout = DefaultTestTimeout
	}
	return v
}

// Verify checks rawURL. An invalid URL fails without touching the network.
// A failed health probe is recorded but the test execution still runs.
func (v *Verifier) Verify(ctx context.Context, rawURL, apiKey string) *Result {
	result := &Result{Errors: []string{}}

	u, err := executor.ValidateURL(rawURL)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		v.finish(rawURL, result)
		return result
	}
	target := executor.Target{BaseURL: u.String(), APIKey: apiKey}

	result.HealthCheck = v.checkHealth(ctx, target)
	if !result.HealthCheck.Healthy {
		result.Errors = append(result.Errors, "health check: "+result.HealthCheck.Error)
	}

	result.TestExecution = v.runSample(ctx, target)
	if !result.TestExecution.Success {
		result.Errors = append(result.Errors, "test execution: "+result.TestExecution.Error)
	}

	result.Valid = result.HealthCheck.Healthy && result.TestExecution.Success && len(result.Errors) == 0
	v.finish(target.BaseURL, result)
	return result
}

func (v *Verifier) checkHealth(ctx context.Context, target executor.Target) *HealthCheckResult {
	ctx, cancel := context.WithTimeout(ctx, v.healthTimeout)
	defer cancel()

	start := time.Now()
	status, err := v.prober.HealthCheck(ctx, target)
	res := &HealthCheckResult{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = status.Healthy
	res.Status = status.Status
	res.Version = status.Version
	if !status.Healthy {
		res.Error = fmt.Sprintf("executor reported status %q", status.Status)
	}
	return res
}

func (v *Verifier) runSample(ctx context.Context, target executor.Target) *TestExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, v.testTimeout)
	defer cancel()

	start := time.Now()
	out, err := v.prober.Execute(ctx, target, executor.ExecuteRequest{
		PackageName: SamplePackage,
		ExportName:  SampleExport,
		Args:        SampleArgs(),
	})
	res := &TestExecutionResult{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Output = out.Output
	return res
}

func (v *Verifier) finish(url string, result *Result) {
	v.metrics.ObserveVerification(result.Valid)
	if result.Valid {
		v.logger.Info("executor verified", "url", url)
		return
	}
	v.logger.Warn("executor verification failed", "url", url, "errors", result.Errors)
}
