// ABOUTME: Indexes a package's exports as tools: extract, fall back to author params, persist.
// ABOUTME: Re-indexing is an idempotent upsert that never touches health or score.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

// SearchIndex receives every tool the indexer writes.
type SearchIndex interface {
	IndexTool(pkg *store.Package, tool *store.Tool) error
}

// ToolOutcome reports how one export was indexed.
type ToolOutcome struct {
	Export       string             `json:"export"`
	ToolID       string             `json:"toolId,omitempty"`
	SchemaSource store.SchemaSource `json:"schemaSource"`
	NeedsReview  bool               `json:"needsReview"`
	Error        string             `json:"error,omitempty"`
}

// IndexReport summarizes one package indexing run.
type IndexReport struct {
	Package string        `json:"package"`
	Version string        `json:"version"`
	Tier    store.Tier    `json:"tier"`
	Tools   []ToolOutcome `json:"tools"`
}

// Indexer writes packages and tools into the store.
type Indexer struct {
	store     store.Store
	extractor *Extractor
	source    MetadataSource
	search    SearchIndex
	logger    *slog.Logger
	now       func() time.Time
}

// IndexerConfig contains configuration options for the Indexer.
type IndexerConfig struct {
	Store     store.Store
	Extractor *Extractor
	Source    MetadataSource // optional, required only by Sync
	Search    SearchIndex    // optional
	Logger    *slog.Logger
}

// NewIndexer creates a new Indexer.
func NewIndexer(cfg IndexerConfig) *Indexer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:     cfg.Store,
		extractor: cfg.Extractor,
		source:    cfg.Source,
		search:    cfg.Search,
		logger:    logger.With("component", "indexer"),
		now:       time.Now,
	}
}

// Sync fetches name from the metadata source and indexes it.
func (ix *Indexer) Sync(ctx context.Context, name string) (*IndexReport, error) {
	if ix.source == nil {
		return nil, errors.New("no metadata source configured")
	}
	meta, err := ix.source.FetchPackage(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	return ix.Index(ctx, meta)
}

// Index upserts the package and one tool per export. Extraction failures
// fall back to the author's parameters; if neither yields a schema the tool
// is stored without one and flagged for review. Only store failures abort.
func (ix *Indexer) Index(ctx context.Context, meta *PackageMetadata) (*IndexReport, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	pkg := meta.toPackage()
	if err := ix.store.UpsertPackage(ctx, pkg); err != nil {
		return nil, fmt.Errorf("upserting package %s: %w", meta.Name, err)
	}

	report := &IndexReport{Package: pkg.Name, Version: pkg.Version, Tier: pkg.Tier}
	for _, export := range meta.Exports {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tool, outcome := ix.resolveTool(ctx, meta, export)
		if err := ix.store.UpsertTool(ctx, tool); err != nil {
			return report, fmt.Errorf("upserting tool %s: %w", tool.QualifiedName(), err)
		}
		outcome.ToolID = tool.ID
		report.Tools = append(report.Tools, outcome)

		if ix.search != nil {
			if err := ix.search.IndexTool(pkg, tool); err != nil {
				ix.logger.Warn("search indexing failed", "tool", tool.QualifiedName(), "error", err)
			}
		}
	}

	ix.logger.Info("indexed package",
		"package", pkg.Name,
		"version", pkg.Version,
		"tier", pkg.Tier,
		"tools", len(report.Tools),
	)
	return report, nil
}

func (ix *Indexer) resolveTool(ctx context.Context, meta *PackageMetadata, export Export) (*store.Tool, ToolOutcome) {
	exportName := strings.TrimSpace(export.Name)
	tool := &store.Tool{
		PackageName: meta.Name,
		ExportName:  exportName,
		Description: firstNonEmpty(export.Description, meta.Description),
	}
	outcome := ToolOutcome{Export: exportName}

	var extractErr error
	if ix.extractor != nil {
		desc, err := ix.extractor.ExtractSchema(ctx, meta.Name, exportName, meta.Version)
		if err == nil {
			extractedAt := ix.now()
			tool.InputSchema = desc.InputSchema
			tool.SchemaSource = store.SchemaExtracted
			tool.SchemaExtractedAt = &extractedAt
			tool.Description = firstNonEmpty(desc.Description, tool.Description)
			outcome.SchemaSource = tool.SchemaSource
			return tool, outcome
		}
		extractErr = err
	}

	raw, err := schema.FromParameters(export.Parameters)
	if err == nil {
		tool.InputSchema = raw
		tool.SchemaSource = store.SchemaAuthor
		outcome.SchemaSource = tool.SchemaSource
		if extractErr != nil {
			outcome.Error = extractErr.Error()
		}
		return tool, outcome
	}

	outcome.Error = errors.Join(extractErr, err).Error()

	// A transient sandbox failure must not erase a schema stored by an
	// earlier run; the none/review fallback is only for tools that never
	// had one.
	if prev, lookupErr := ix.store.GetTool(ctx, meta.Name, exportName); lookupErr == nil && len(prev.InputSchema) > 0 {
		tool.InputSchema = prev.InputSchema
		tool.SchemaSource = prev.SchemaSource
		tool.SchemaExtractedAt = prev.SchemaExtractedAt
		tool.NeedsReview = prev.NeedsReview
		outcome.SchemaSource = prev.SchemaSource
		outcome.NeedsReview = prev.NeedsReview
		ix.logger.Warn("schema unavailable, keeping stored schema",
			"package", meta.Name,
			"export", exportName,
			"schema_source", prev.SchemaSource,
			"error", outcome.Error,
		)
		return tool, outcome
	}

	tool.SchemaSource = store.SchemaNone
	tool.NeedsReview = true
	outcome.SchemaSource = store.SchemaNone
	outcome.NeedsReview = true
	ix.logger.Warn("no schema for tool, flagged for review",
		"package", meta.Name,
		"export", exportName,
		"error", outcome.Error,
	)
	return tool, outcome
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
