// ABOUTME: Routes tool executions to the sandbox or a collection's custom executor.
// ABOUTME: Never falls back between executors; transport faults become typed RouteErrors.

package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/toolshed/internal/metrics"
)

// DefaultRouteTimeout bounds an interactive tool call.
const DefaultRouteTimeout = 60 * time.Second

// Router dispatches executions according to an executor Config.
type Router struct {
	client  *Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Client  *Client
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Timeout time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRouteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		client:  cfg.Client,
		logger:  logger.With("component", "router"),
		metrics: cfg.Metrics,
		timeout: timeout,
	}
}

// Resolve returns the target for cfg. A nil cfg is Default.
func (r *Router) Resolve(cfg Config) (Target, error) {
	switch c := cfg.(type) {
	case nil, Default:
		return r.client.Sandbox(), nil
	case CustomURL:
		if err := c.Validate(); err != nil {
			return Target{}, err
		}
		return Target{BaseURL: c.URL, APIKey: c.APIKey}, nil
	default:
		return Target{}, fmt.Errorf("%w: unsupported config %T", ErrInvalidConfig, cfg)
	}
}

// Route executes req on the executor cfg selects. A custom executor that
// fails is reported as executor_unreachable, executor_timeout or
// executor_rejected; the sandbox is never tried in its place. Tool-level
// failures pass through as *Error with KindExecutionFailure.
func (r *Router) Route(ctx context.Context, cfg Config, req ExecuteRequest) (*ExecuteResult, error) {
	target, err := r.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	executor := TypeName(cfg)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("→ routing tool call",
		"package", req.PackageName,
		"export", req.ExportName,
		"executor", executor,
	)

	result, err := r.client.Execute(ctx, target, req)
	if err != nil {
		var execErr *Error
		if errors.As(err, &execErr) {
			if code, ok := routeCodeFor(execErr.Kind); ok {
				r.metrics.ObserveRouteError(executor, string(code))
				r.logger.Warn("executor call failed",
					"package", req.PackageName,
					"export", req.ExportName,
					"executor", executor,
					"code", code,
					"error", execErr,
				)
				return nil, &RouteError{Code: code, Executor: executor, Err: execErr}
			}
		}
		return nil, err
	}

	r.logger.Info("← executor responded",
		"package", req.PackageName,
		"export", req.ExportName,
		"executor", executor,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}
