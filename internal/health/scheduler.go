// ABOUTME: Health sweeps: re-verify every tool imports and executes in the sandbox.
// ABOUTME: Bounded fan-out, rate-limited dispatch, per-tool isolation and an hourly ticker.

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/fixtures"
	"github.com/2389/toolshed/internal/metrics"
	"github.com/2389/toolshed/internal/quality"
	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

const (
	DefaultInterval    = time.Hour
	DefaultConcurrency = 4
	DefaultToolTimeout = 15 * time.Second

	// MaxErrorLength caps the stored health check error text.
	MaxErrorLength = 500
)

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("health sweep already in progress")

// Sandbox is the part of the executor client a sweep needs.
type Sandbox interface {
	Sandbox() executor.Target
	Introspect(ctx context.Context, req executor.IntrospectRequest) (*executor.Description, error)
	Execute(ctx context.Context, target executor.Target, req executor.ExecuteRequest) (*executor.ExecuteResult, error)
}

// Rescorer recomputes quality scores after health changes.
type Rescorer interface {
	RescoreAll(ctx context.Context) (*quality.RescoreReport, error)
}

// ToolResult is the outcome of checking one tool.
type ToolResult struct {
	ToolID          string            `json:"toolId"`
	Tool            string            `json:"tool"`
	ImportHealth    store.HealthState `json:"importHealth"`
	ExecutionHealth store.HealthState `json:"executionHealth"`
	Error           string            `json:"error,omitempty"`
	DurationMs      int64             `json:"durationMs"`
	Persisted       bool              `json:"persisted"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt time.Time              `json:"finishedAt"`
	Checked    int                    `json:"checked"`
	Healthy    int                    `json:"healthy"`
	Broken     int                    `json:"broken"`
	Unknown    int                    `json:"unknown"`
	Failed     int                    `json:"failed"` // results that could not be persisted
	Results    []ToolResult           `json:"results"`
	Rescore    *quality.RescoreReport `json:"rescore,omitempty"`
}

// Config contains configuration options for the Scheduler.
type Config struct {
	Store    store.Store
	Sandbox  Sandbox
	Fixtures *fixtures.Cache // optional
	Rescorer Rescorer        // optional
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	Interval    time.Duration
	Concurrency int
	ToolTimeout time.Duration
	// RatePerSecond limits sandbox calls across the sweep; <= 0 disables.
	RatePerSecond float64
	RunOnStart    bool
}

// Scheduler runs health sweeps on demand or on a ticker.
type Scheduler struct {
	store    store.Store
	sandbox  Sandbox
	fixtures *fixtures.Cache
	rescorer Rescorer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	interval    time.Duration
	concurrency int
	toolTimeout time.Duration
	limiter     *rate.Limiter
	runOnStart  bool

	running sync.Mutex
}

// NewScheduler creates a Scheduler, filling unset options with defaults.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		store:       cfg.Store,
		sandbox:     cfg.Sandbox,
		fixtures:    cfg.Fixtures,
		rescorer:    cfg.Rescorer,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		toolTimeout: cfg.ToolTimeout,
		runOnStart:  cfg.RunOnStart,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "health")
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.toolTimeout <= 0 {
		s.toolTimeout = DefaultToolTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	s.limiter = rate.NewLimiter(limit, s.concurrency)
	return s
}

// Start runs a sweep every interval until ctx is done. A failed sweep is
// logged and the next attempt waits for the following tick.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("health scheduler started", "interval", s.interval, "concurrency", s.concurrency)

	if s.runOnStart {
		s.tick(ctx, time.Now())
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("health scheduler stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if _, err := s.RunSweep(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("health sweep failed, retrying at next tick", "error", err)
	}
}

// RunSweep checks every tool once, recording each result with
// LastHealthCheck = now. Per-tool failures, including panics and store
// errors, are captured in the report; the returned error is reserved for
// failures of the sweep itself.
func (s *Scheduler) RunSweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := time.Now()
	report, err := s.sweep(ctx, now)
	if err != nil {
		s.metrics.ObserveSweep(time.Since(start), 0, err)
		return report, err
	}
	s.metrics.ObserveSweep(time.Since(start), report.Broken, nil)

	if s.rescorer != nil {
		rescore, err := s.rescorer.RescoreAll(ctx)
		if err != nil {
			s.logger.Warn("rescoring after sweep failed", "error", err)
		}
		report.Rescore = rescore
	}
	report.FinishedAt = time.Now()

	s.logger.Info("health sweep complete",
		"checked", report.Checked,
		"healthy", report.Healthy,
		"broken", report.Broken,
		"unknown", report.Unknown,
		"failed", report.Failed,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	report := &SweepReport{StartedAt: time.Now()}

	tools, err := s.store.ListTools(ctx, store.ToolFilter{})
	if err != nil {
		return report, fmt.Errorf("listing tools: %w", err)
	}
	pkgs, err := s.store.ListPackages(ctx)
	if err != nil {
		return report, fmt.Errorf("listing packages: %w", err)
	}
	versions := make(map[string]string, len(pkgs))
	for _, p := range pkgs {
		versions[p.Name] = p.Version
	}

	results := make([]ToolResult, len(tools))
	abandoned := make([]bool, len(tools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, tool := range tools {
		g.Go(func() error {
			if gctx.Err() != nil {
				abandoned[i] = true
				return nil
			}
			res, ok := s.checkAndRecord(gctx, tool, versions[tool.PackageName], now)
			results[i] = res
			abandoned[i] = !ok
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if abandoned[i] {
			continue
		}
		report.Checked++
		if !res.Persisted {
			report.Failed++
		}
		switch {
		case res.ImportHealth == store.HealthBroken || res.ExecutionHealth == store.HealthBroken:
			report.Broken++
		case res.ImportHealth == store.HealthHealthy && res.ExecutionHealth == store.HealthHealthy:
			report.Healthy++
		default:
			report.Unknown++
		}
		report.Results = append(report.Results, res)
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// checkAndRecord checks one tool and persists the result. It returns false
// when the sweep was canceled before the tool finished.
func (s *Scheduler) checkAndRecord(ctx context.Context, tool *store.Tool, version string, now time.Time) (res ToolResult, ok bool) {
	start := time.Now()
	res = ToolResult{
		ToolID:          tool.ID,
		Tool:            tool.QualifiedName(),
		ImportHealth:    store.HealthUnknown,
		ExecutionHealth: store.HealthUnknown,
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic checking tool",
					"tool", res.Tool,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				res.ImportHealth = store.HealthBroken
				res.ExecutionHealth = store.HealthUnknown
				res.Error = fmt.Sprintf("internal error: %v", r)
			}
		}()
		s.check(ctx, tool, version, &res)
	}()

	if ctx.Err() != nil {
		return res, false
	}
	res.Error = truncate(res.Error, MaxErrorLength)
	res.DurationMs = time.Since(start).Milliseconds()

	update := store.HealthUpdate{
		ImportHealth:    res.ImportHealth,
		ExecutionHealth: res.ExecutionHealth,
		CheckedAt:       now,
	}
	if res.Error != "" {
		msg := res.Error
		update.Error = &msg
	}
	if err := s.store.UpdateToolHealth(ctx, tool.ID, update); err != nil {
		s.logger.Error("failed to record tool health", "tool", res.Tool, "error", err)
		if res.Error == "" {
			res.Error = truncate("recording result: "+err.Error(), MaxErrorLength)
		}
	} else {
		res.Persisted = true
	}

	s.metrics.ObserveToolCheck(string(res.ImportHealth), string(res.ExecutionHealth))
	s.logger.Debug("tool checked",
		"tool", res.Tool,
		"import", res.ImportHealth,
		"execution", res.ExecutionHealth,
		"duration_ms", res.DurationMs,
	)
	return res, true
}

// check introspects then, if the import succeeded, executes the tool with a
// fixture or placeholder input. Execution stays UNKNOWN when import fails.
func (s *Scheduler) check(ctx context.Context, tool *store.Tool, version string, res *ToolResult) {
	desc, err := s.introspect(ctx, tool, version)
	if err != nil {
		res.ImportHealth = store.HealthBroken
		res.ExecutionHealth = store.HealthUnknown
		res.Error = "import: " + err.Error()
		return
	}
	res.ImportHealth = store.HealthHealthy

	input, ok := s.fixtures.Lookup(tool.PackageName, tool.ExportName)
	if !ok {
		raw := desc.InputSchema
		if len(raw) == 0 {
			raw = tool.InputSchema
		}
		input, err = schema.PlaceholderInput(raw)
		if err != nil {
			input = map[string]any{}
		}
	}

	if err := s.execute(ctx, tool, version, input); err != nil {
		res.ExecutionHealth = store.HealthBroken
		res.Error = "execute: " + err.Error()
		return
	}
	res.ExecutionHealth = store.HealthHealthy
}

func (s *Scheduler) introspect(ctx context.Context, tool *store.Tool, version string) (*executor.Description, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()
	return s.sandbox.Introspect(ctx, executor.IntrospectRequest{
		PackageName: tool.PackageName,
		ExportName:  tool.ExportName,
		Version:     version,
	})
}

func (s *Scheduler) execute(ctx context.Context, tool *store.Tool, version string, input map[string]any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()
	_, err := s.sandbox.Execute(ctx, s.sandbox.Sandbox(), executor.ExecuteRequest{
		PackageName: tool.PackageName,
		ExportName:  tool.ExportName,
		Version:     version,
		Args:        input,
	})
	return err
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
