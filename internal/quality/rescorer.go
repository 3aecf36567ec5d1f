// ABOUTME: Batch rescoring of every tool using the batch's maximum download count.
// ABOUTME: Only scores that changed are written back.

package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/2389/toolshed/internal/metrics"
	"github.com/2389/toolshed/internal/store"
)

// RescoreReport summarizes one rescoring pass.
type RescoreReport struct {
	Tools        int   `json:"tools"`
	Updated      int   `json:"updated"`
	Failed       int   `json:"failed"`
	MaxDownloads int64 `json:"maxDownloads"`
}

// Rescorer recomputes and persists quality scores.
type Rescorer struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRescorer creates a Rescorer.
func NewRescorer(s store.Store, logger *slog.Logger, m *metrics.Metrics) *Rescorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rescorer{
		store:   s,
		logger:  logger.With("component", "quality"),
		metrics: m,
	}
}

// RescoreAll scores every tool. A failed write is logged and counted; the
// pass continues and the failures are returned joined.
func (r *Rescorer) RescoreAll(ctx context.Context) (*RescoreReport, error) {
	pkgs, err := r.store.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	tools, err := r.store.ListTools(ctx, store.ToolFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}

	report := &RescoreReport{Tools: len(tools)}
	byName := make(map[string]*store.Package, len(pkgs))
	for _, p := range pkgs {
		byName[p.Name] = p
		if p.MonthlyDownloads != nil && *p.MonthlyDownloads > report.MaxDownloads {
			report.MaxDownloads = *p.MonthlyDownloads
		}
	}

	var errs []error
	for _, t := range tools {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		score := Score(SignalsFor(t, byName[t.PackageName], report.MaxDownloads))
		if math.Abs(score-t.QualityScore) < 1e-9 {
			continue
		}
		if err := r.store.UpdateToolScore(ctx, t.ID, score); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("scoring %s: %w", t.QualifiedName(), err))
			r.logger.Warn("failed to persist score", "tool", t.QualifiedName(), "error", err)
			continue
		}
		report.Updated++
	}

	r.metrics.ObserveRescore()
	r.logger.Info("rescored tools",
		"tools", report.Tools,
		"updated", report.Updated,
		"failed", report.Failed,
		"max_downloads", report.MaxDownloads,
	)
	return report, errors.Join(errs...)
}

// SignalsFor assembles scoring inputs for a tool and its package.
func SignalsFor(t *store.Tool, pkg *store.Package, maxDownloads int64) Signals {
	s := Signals{
		ToolDescription: t.Description,
		InputSchema:     t.InputSchema,
		MaxDownloads:    maxDownloads,
		ImportHealth:    t.ImportHealth,
		ExecutionHealth: t.ExecutionHealth,
	}
	if pkg != nil {
		s.PackageDescription = pkg.Description
		s.Readme = pkg.Readme
		s.MonthlyDownloads = pkg.MonthlyDownloads
	}
	return s
}
