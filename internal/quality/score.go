// ABOUTME: Pure quality score over schema completeness, popularity, health and documentation.
// ABOUTME: Weights are fixed; the result is clamped to [0,1] and rounded to two decimals.

package quality

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

// Component weights. They sum to 1.
const (
	WeightSchema     = 0.40
	WeightPopularity = 0.30
	WeightHealth     = 0.20
	WeightDocs       = 0.10
)

// LongFormThreshold is the prose length at which documentation counts as long-form.
const LongFormThreshold = 200

// Signals is everything a score is computed from.
type Signals struct {
	ToolDescription    string
	InputSchema        json.RawMessage
	PackageDescription string
	Readme             string

	// MonthlyDownloads is nil when unknown. MaxDownloads is the largest
	// count observed in the same batch.
	MonthlyDownloads *int64
	MaxDownloads     int64

	ImportHealth    store.HealthState
	ExecutionHealth store.HealthState
}

// Breakdown holds each normalized component and the final score.
type Breakdown struct {
	Schema     float64 `json:"schema"`
	Popularity float64 `json:"popularity"`
	Health     float64 `json:"health"`
	Docs       float64 `json:"docs"`
	Total      float64 `json:"total"`
}

// Score returns the final quality score for s.
func Score(s Signals) float64 {
	return Compute(s).Total
}

// Compute returns every component and the weighted total.
func Compute(s Signals) Breakdown {
	b := Breakdown{
		Schema:     SchemaCompleteness(s.ToolDescription, s.InputSchema),
		Popularity: Popularity(s.MonthlyDownloads, s.MaxDownloads),
		Health:     Health(s.ImportHealth, s.ExecutionHealth),
		Docs:       Documentation(s.ToolDescription, s.PackageDescription, s.Readme),
	}
	total := WeightSchema*b.Schema +
		WeightPopularity*b.Popularity +
		WeightHealth*b.Health +
		WeightDocs*b.Docs
	b.Total = round2(clamp01(total))
	return b
}

// SchemaCompleteness is the mean of three terms: the tool has a description,
// the fraction of parameters with descriptions, and the fraction with a
// specific type. A schema with zero parameters satisfies both parameter
// terms; a missing schema scores zero on them.
func SchemaCompleteness(description string, raw json.RawMessage) float64 {
	var hasDescription float64
	if strings.TrimSpace(description) != "" {
		hasDescription = 1
	}

	sum := schema.Summarize(raw)
	var described, typed float64
	switch {
	case !sum.Present:
	case sum.Params == 0:
		described, typed = 1, 1
	default:
		described = float64(sum.Described) / float64(sum.Params)
		typed = float64(sum.Typed) / float64(sum.Params)
	}
	return (hasDescription + described + typed) / 3
}

// Popularity is log10(d+1)/log10(max+1), clamped to [0,1]. Unknown
// downloads contribute nothing.
func Popularity(downloads *int64, maxDownloads int64) float64 {
	if downloads == nil || *downloads <= 0 {
		return 0
	}
	d := *downloads
	if maxDownloads < d {
		maxDownloads = d
	}
	return clamp01(math.Log10(float64(d)+1) / math.Log10(float64(maxDownloads)+1))
}

// Health is 1 when both checks pass, 0 when either is broken and 0.5 otherwise.
func Health(importHealth, executionHealth store.HealthState) float64 {
	switch {
	case importHealth == store.HealthBroken || executionHealth == store.HealthBroken:
		return 0
	case importHealth == store.HealthHealthy && executionHealth == store.HealthHealthy:
		return 1
	default:
		return 0.5
	}
}

// Documentation is 1 for long-form prose plus a usage example, 0.5 when
// there is at least some description, and 0 otherwise.
func Documentation(toolDescription, packageDescription, readme string) float64 {
	doc := AnalyzeReadme(readme)
	longest := max(len(strings.TrimSpace(toolDescription)), len(strings.TrimSpace(packageDescription)), doc.ProseLength)
	switch {
	case longest >= LongFormThreshold && doc.CodeBlocks > 0:
		return 1
	case longest > 0:
		return 0.5
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
