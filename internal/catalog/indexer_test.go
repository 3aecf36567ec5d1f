// ABOUTME: Tests for package indexing and schema extraction fallback
// ABOUTME: Uses a scripted introspector and the in-memory store

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntrospector struct {
	descriptions map[string]*executor.Description
	calls        int
}

func (f *fakeIntrospector) Introspect(ctx context.Context, req executor.IntrospectRequest) (*executor.Description, error) {
	f.calls++
	if d, ok := f.descriptions[req.PackageName+"/"+req.ExportName]; ok {
		return d, nil
	}
	return nil, &executor.Error{Kind: executor.KindExecutionFailure, Op: "introspect", Message: "Cannot find module"}
}

type recordingIndex struct {
	tools []string
}

func (r *recordingIndex) IndexTool(pkg *store.Package, tool *store.Tool) error {
	r.tools = append(r.tools, tool.QualifiedName())
	return nil
}

type staticSource map[string]*PackageMetadata

func (s staticSource) FetchPackage(ctx context.Context, name string) (*PackageMetadata, error) {
	if m, ok := s[name]; ok {
		return m, nil
	}
	return nil, errors.New("404")
}

const formatDateSchema = `{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}`

func acmeTools() *PackageMetadata {
	return &PackageMetadata{
		Name:            "@acme/tools",
		Version:         "1.0.0",
		Description:     "Handy tools",
		DiscoveryMethod: store.DiscoveryChangesFeed,
		Exports: []Export{
			{Name: "formatDate"},
			{Name: "slugify", Parameters: []schema.Param{{Name: "text", Type: "string", Required: true}}},
			{Name: "mystery"},
		},
	}
}

func newTestIndexer(st store.Store, intro Introspector, idx SearchIndex) *Indexer {
	return NewIndexer(IndexerConfig{
		Store:     st,
		Extractor: NewExtractor(intro, nil),
		Search:    idx,
	})
}

func TestIndex_ExtractFallbackAndReview(t *testing.T) {
	st := store.NewMockStore()
	intro := &fakeIntrospector{descriptions: map[string]*executor.Description{
		"@acme/tools/formatDate": {InputSchema: json.RawMessage(formatDateSchema), Description: "Formats a date"},
	}}
	search := &recordingIndex{}

	report, err := newTestIndexer(st, intro, search).Index(context.Background(), acmeTools())
	require.NoError(t, err)
	require.Len(t, report.Tools, 3)
	assert.Equal(t, store.TierRich, report.Tier)

	formatDate, err := st.GetTool(context.Background(), "@acme/tools", "formatDate")
	require.NoError(t, err)
	assert.Equal(t, store.SchemaExtracted, formatDate.SchemaSource)
	assert.Equal(t, "Formats a date", formatDate.Description)
	assert.JSONEq(t, formatDateSchema, string(formatDate.InputSchema))
	assert.NotNil(t, formatDate.SchemaExtractedAt)
	assert.False(t, formatDate.NeedsReview)

	slugify, err := st.GetTool(context.Background(), "@acme/tools", "slugify")
	require.NoError(t, err)
	assert.Equal(t, store.SchemaAuthor, slugify.SchemaSource)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"],"additionalProperties":false}`, string(slugify.InputSchema))
	assert.Equal(t, "Handy tools", slugify.Description, "falls back to the package description")

	mystery, err := st.GetTool(context.Background(), "@acme/tools", "mystery")
	require.NoError(t, err)
	assert.Equal(t, store.SchemaNone, mystery.SchemaSource)
	assert.Empty(t, mystery.InputSchema)
	assert.True(t, mystery.NeedsReview)
	assert.True(t, report.Tools[2].NeedsReview)
	assert.NotEmpty(t, report.Tools[2].Error)

	assert.Equal(t, []string{"@acme/tools/formatDate", "@acme/tools/slugify", "@acme/tools/mystery"}, search.tools)
}

func TestIndex_Idempotent(t *testing.T) {
	st := store.NewMockStore()
	intro := &fakeIntrospector{descriptions: map[string]*executor.Description{
		"@acme/tools/formatDate": {InputSchema: json.RawMessage(formatDateSchema)},
	}}
	ix := newTestIndexer(st, intro, nil)
	ctx := context.Background()

	first, err := ix.Index(ctx, acmeTools())
	require.NoError(t, err)
	second, err := ix.Index(ctx, acmeTools())
	require.NoError(t, err)

	for i := range first.Tools {
		assert.Equal(t, first.Tools[i].ToolID, second.Tools[i].ToolID)
	}
	pkgs, err := st.ListPackages(ctx)
	require.NoError(t, err)
	assert.Len(t, pkgs, 1)
	tools, err := st.ListTools(ctx, store.ToolFilter{})
	require.NoError(t, err)
	assert.Len(t, tools, 3)
}

func TestIndex_ResyncKeepsStoredSchemaWhenSandboxDown(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "toolshed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	meta := func() *PackageMetadata {
		return &PackageMetadata{Name: "date-fns-lite", Version: "1.0.0", Exports: []Export{{Name: "formatDate"}, {Name: "parse"}}}
	}
	up := &fakeIntrospector{descriptions: map[string]*executor.Description{
		"date-fns-lite/formatDate": {InputSchema: json.RawMessage(formatDateSchema)},
	}}
	_, err = newTestIndexer(st, up, nil).Index(ctx, meta())
	require.NoError(t, err)
	before, err := st.GetTool(ctx, "date-fns-lite", "formatDate")
	require.NoError(t, err)

	down := &fakeIntrospector{}
	report, err := newTestIndexer(st, down, nil).Index(ctx, meta())
	require.NoError(t, err)
	assert.Equal(t, store.SchemaExtracted, report.Tools[0].SchemaSource)
	assert.False(t, report.Tools[0].NeedsReview)
	assert.NotEmpty(t, report.Tools[0].Error, "the failed extraction is still reported")

	after, err := st.GetTool(ctx, "date-fns-lite", "formatDate")
	require.NoError(t, err)
	assert.Equal(t, store.SchemaExtracted, after.SchemaSource)
	assert.JSONEq(t, formatDateSchema, string(after.InputSchema))
	assert.False(t, after.NeedsReview)
	require.NotNil(t, after.SchemaExtractedAt)
	assert.True(t, before.SchemaExtractedAt.Equal(*after.SchemaExtractedAt))

	never, err := st.GetTool(ctx, "date-fns-lite", "parse")
	require.NoError(t, err)
	assert.Equal(t, store.SchemaNone, never.SchemaSource)
	assert.True(t, never.NeedsReview)
}

func TestIndex_InvalidSchemaFromSandbox(t *testing.T) {
	st := store.NewMockStore()
	intro := &fakeIntrospector{descriptions: map[string]*executor.Description{
		"left-pad/default": {InputSchema: json.RawMessage(`{"type":"string"}`)},
	}}
	meta := &PackageMetadata{Name: "left-pad", Version: "1.3.0", Exports: []Export{{Name: "default", Parameters: []schema.Param{}}}}

	report, err := newTestIndexer(st, intro, nil).Index(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaAuthor, report.Tools[0].SchemaSource)
	assert.Equal(t, store.TierRich, report.Tier)
}

func TestIndex_RejectsInvalidPackage(t *testing.T) {
	ix := newTestIndexer(store.NewMockStore(), &fakeIntrospector{}, nil)

	tests := []struct {
		name string
		meta *PackageMetadata
	}{
		{"nil", nil},
		{"bad name", &PackageMetadata{Name: "Not Valid", Version: "1.0.0", Exports: []Export{{Name: "a"}}}},
		{"no version", &PackageMetadata{Name: "ok", Exports: []Export{{Name: "a"}}}},
		{"no exports", &PackageMetadata{Name: "ok", Version: "1.0.0"}},
		{"duplicate export", &PackageMetadata{Name: "ok", Version: "1.0.0", Exports: []Export{{Name: "a"}, {Name: "a"}}}},
		{"negative downloads", &PackageMetadata{Name: "ok", Version: "1.0.0", MonthlyDownloads: ptr(int64(-1)), Exports: []Export{{Name: "a"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ix.Index(context.Background(), tt.meta)
			assert.ErrorIs(t, err, ErrInvalidPackage)
		})
	}
}

func TestTier(t *testing.T) {
	minimal := &PackageMetadata{Exports: []Export{{Name: "a", Description: "just words"}}}
	assert.Equal(t, store.TierMinimal, minimal.Tier())

	guided := &PackageMetadata{Exports: []Export{{Name: "a"}, {Name: "b", AgentGuidance: "call with a date"}}}
	assert.Equal(t, store.TierRich, guided.Tier())

	returns := &PackageMetadata{Exports: []Export{{Name: "a", Returns: json.RawMessage(`{"type":"string"}`)}}}
	assert.Equal(t, store.TierRich, returns.Tier())
}

func TestSync(t *testing.T) {
	st := store.NewMockStore()
	ix := NewIndexer(IndexerConfig{
		Store:     st,
		Extractor: NewExtractor(&fakeIntrospector{}, nil),
		Source:    staticSource{"left-pad": {Name: "left-pad", Version: "1.3.0", Exports: []Export{{Name: "default"}}}},
	})

	report, err := ix.Sync(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Equal(t, "left-pad", report.Package)

	_, err = ix.Sync(context.Background(), "missing")
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
