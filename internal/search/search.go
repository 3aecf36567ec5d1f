// ABOUTME: Keyword search over tools backed by an in-memory bleve index.
// ABOUTME: Bleve only selects matches; results are ordered by quality score.

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/2389/toolshed/internal/store"
)

// maxCandidates caps how many bleve hits are considered per query.
const maxCandidates = 1000

// document is what gets indexed for one tool.
type document struct {
	Package     string   `json:"package"`
	Export      string   `json:"export"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	PackageDesc string   `json:"package_description"`
}

// Index is a full-text index of tools.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	store  store.Store
	logger *slog.Logger
}

// New creates an empty in-memory index reading tool rows from s.
func New(s store.Store, logger *slog.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating search index: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		index:  idx,
		store:  s,
		logger: logger.With("component", "search"),
	}, nil
}

// IndexTool adds or replaces one tool document.
func (ix *Index) IndexTool(pkg *store.Package, tool *store.Tool) error {
	doc := document{
		Package:     tool.PackageName,
		Export:      tool.ExportName,
		Description: tool.Description,
	}
	if pkg != nil {
		doc.Keywords = pkg.Keywords
		doc.PackageDesc = pkg.Description
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Index(tool.ID, doc)
}

// Rebuild indexes every tool currently in the store.
func (ix *Index) Rebuild(ctx context.Context) (int, error) {
	pkgs, err := ix.store.ListPackages(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing packages: %w", err)
	}
	byName := make(map[string]*store.Package, len(pkgs))
	for _, p := range pkgs {
		byName[p.Name] = p
	}

	tools, err := ix.store.ListTools(ctx, store.ToolFilter{})
	if err != nil {
		return 0, fmt.Errorf("listing tools: %w", err)
	}

	batch := ix.index.NewBatch()
	for _, t := range tools {
		doc := document{Package: t.PackageName, Export: t.ExportName, Description: t.Description}
		if p := byName[t.PackageName]; p != nil {
			doc.Keywords = p.Keywords
			doc.PackageDesc = p.Description
		}
		if err := batch.Index(t.ID, doc); err != nil {
			return 0, fmt.Errorf("indexing %s: %w", t.QualifiedName(), err)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("applying batch: %w", err)
	}
	ix.logger.Info("search index rebuilt", "tools", len(tools))
	return len(tools), nil
}

// Search returns tools matching every term of q, best quality first.
// An empty query lists tools by quality without consulting the index.
func (ix *Index) Search(ctx context.Context, q string, limit int) ([]*store.Tool, error) {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 {
		return ix.store.ListTools(ctx, store.ToolFilter{Limit: limit})
	}

	conjuncts := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		conjuncts = append(conjuncts, bleve.NewDisjunctionQuery(
			bleve.NewMatchQuery(term),
			bleve.NewPrefixQuery(term),
		))
	}
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), maxCandidates, 0, false)

	ix.mu.RLock()
	res, err := ix.index.SearchInContext(ctx, req)
	ix.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	tools := make([]*store.Tool, 0, len(res.Hits))
	for _, hit := range res.Hits {
		t, err := ix.store.GetToolByID(ctx, hit.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading tool %s: %w", hit.ID, err)
		}
		tools = append(tools, t)
	}

	sort.SliceStable(tools, func(i, j int) bool {
		if tools[i].QualityScore != tools[j].QualityScore {
			return tools[i].QualityScore > tools[j].QualityScore
		}
		return tools[i].QualifiedName() < tools[j].QualifiedName()
	})
	if limit > 0 && len(tools) > limit {
		tools = tools[:limit]
	}
	return tools, nil
}

// Close releases the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index.Close()
}
