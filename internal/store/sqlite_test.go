// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers package/tool upsert identity, health ordering, scores and collections

package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.UpsertPackage(context.Background(), &Package{Name: "left-pad", Version: "1.0.0"}))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	pkg, err := second.GetPackage(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", pkg.Version)
}

func TestUpsertPackage_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	downloads := int64(1200)
	pkg := &Package{
		Name:             "@acme/tools",
		Version:          "1.0.0",
		Keywords:         []string{"agent-tool", "dates"},
		DiscoveryMethod:  DiscoveryChangesFeed,
		MonthlyDownloads: &downloads,
	}
	require.NoError(t, store.UpsertPackage(ctx, pkg))
	firstCreated := pkg.CreatedAt

	time.Sleep(5 * time.Millisecond)

	again := &Package{
		Name:            "@acme/tools",
		Version:         "1.1.0",
		Keywords:        []string{"agent-tool"},
		DiscoveryMethod: DiscoveryManual,
		Tier:            TierRich,
	}
	require.NoError(t, store.UpsertPackage(ctx, again))

	pkgs, err := store.ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	got := pkgs[0]
	assert.Equal(t, "1.1.0", got.Version)
	assert.Equal(t, TierRich, got.Tier)
	assert.Equal(t, []string{"agent-tool"}, got.Keywords)
	assert.Nil(t, got.MonthlyDownloads, "missing downloads must stay unknown")
	assert.Equal(t, DiscoveryChangesFeed, got.DiscoveryMethod, "first discovery method is kept")
	assert.True(t, got.CreatedAt.Equal(firstCreated), "created_at changed on re-sync")
	assert.True(t, got.UpdatedAt.After(firstCreated))
}

func TestGetPackage_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPackage(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertTool_KeepsIdentityAndHealth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "@acme/tools")

	tool := &Tool{
		PackageName:  "@acme/tools",
		ExportName:   "formatDate",
		Description:  "Formats a date",
		InputSchema:  json.RawMessage(`{"type":"object"}`),
		SchemaSource: SchemaExtracted,
	}
	require.NoError(t, store.UpsertTool(ctx, tool))
	id := tool.ID
	require.NotEmpty(t, id)

	checkedAt := time.Now()
	require.NoError(t, store.UpdateToolHealth(ctx, id, HealthUpdate{
		ImportHealth:    HealthHealthy,
		ExecutionHealth: HealthHealthy,
		CheckedAt:       checkedAt,
	}))
	require.NoError(t, store.UpdateToolScore(ctx, id, 0.65))

	second := &Tool{
		PackageName:  "@acme/tools",
		ExportName:   "formatDate",
		Description:  "Formats a date nicely",
		InputSchema:  json.RawMessage(`{"type":"object","properties":{}}`),
		SchemaSource: SchemaExtracted,
	}
	require.NoError(t, store.UpsertTool(ctx, second))
	assert.Equal(t, id, second.ID, "second upsert must reuse the row identity")

	tools, err := store.ListTools(ctx, ToolFilter{})
	require.NoError(t, err)
	require.Len(t, tools, 1)

	got := tools[0]
	assert.Equal(t, "Formats a date nicely", got.Description)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(got.InputSchema))
	assert.Equal(t, HealthHealthy, got.ImportHealth)
	assert.Equal(t, HealthHealthy, got.ExecutionHealth)
	assert.InDelta(t, 0.65, got.QualityScore, 1e-9)
	require.NotNil(t, got.LastHealthCheck)
}

func TestUpsertTool_RequiresPackage(t *testing.T) {
	store := newTestStore(t)

	err := store.UpsertTool(context.Background(), &Tool{PackageName: "ghost", ExportName: "run"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestUpsertTool_NoSchema(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "bare")

	tool := &Tool{PackageName: "bare", ExportName: "default", NeedsReview: true}
	require.NoError(t, store.UpsertTool(ctx, tool))

	got, err := store.GetTool(ctx, "bare", "default")
	require.NoError(t, err)
	assert.Empty(t, got.InputSchema)
	assert.Equal(t, SchemaNone, got.SchemaSource)
	assert.True(t, got.NeedsReview)
	assert.Equal(t, HealthUnknown, got.ImportHealth)
	assert.Equal(t, HealthUnknown, got.ExecutionHealth)
	assert.Nil(t, got.LastHealthCheck)
}

func TestUpdateToolHealth_StaleUpdateIgnored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "pkg")
	tool := &Tool{PackageName: "pkg", ExportName: "run"}
	require.NoError(t, store.UpsertTool(ctx, tool))

	newer := time.Now()
	older := newer.Add(-time.Minute)
	msg := "Cannot find module"

	require.NoError(t, store.UpdateToolHealth(ctx, tool.ID, HealthUpdate{
		ImportHealth:    HealthBroken,
		ExecutionHealth: HealthUnknown,
		CheckedAt:       newer,
		Error:           &msg,
	}))
	require.NoError(t, store.UpdateToolHealth(ctx, tool.ID, HealthUpdate{
		ImportHealth:    HealthHealthy,
		ExecutionHealth: HealthHealthy,
		CheckedAt:       older,
	}))

	got, err := store.GetToolByID(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, HealthBroken, got.ImportHealth)
	assert.Equal(t, HealthUnknown, got.ExecutionHealth)
	require.NotNil(t, got.HealthCheckError)
	assert.Equal(t, msg, *got.HealthCheckError)
	assert.True(t, got.IsBroken())
}

func TestUpdateToolHealth_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateToolHealth(context.Background(), "nope", HealthUpdate{
		ImportHealth:    HealthHealthy,
		ExecutionHealth: HealthHealthy,
		CheckedAt:       time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateToolScore_RejectsOutOfRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "pkg")
	tool := &Tool{PackageName: "pkg", ExportName: "run"}
	require.NoError(t, store.UpsertTool(ctx, tool))

	assert.ErrorIs(t, store.UpdateToolScore(ctx, tool.ID, 1.5), ErrInvalidEntity)
	assert.ErrorIs(t, store.UpdateToolScore(ctx, "nope", 0.5), ErrNotFound)
}

func TestListTools_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "a")
	seedPackage(t, store, "b")

	ids := map[string]string{}
	for _, ref := range [][2]string{{"a", "one"}, {"a", "two"}, {"b", "three"}} {
		tool := &Tool{PackageName: ref[0], ExportName: ref[1]}
		require.NoError(t, store.UpsertTool(ctx, tool))
		ids[ref[1]] = tool.ID
	}
	require.NoError(t, store.UpdateToolScore(ctx, ids["two"], 0.9))
	require.NoError(t, store.UpdateToolHealth(ctx, ids["three"], HealthUpdate{
		ImportHealth:    HealthHealthy,
		ExecutionHealth: HealthBroken,
		CheckedAt:       time.Now(),
	}))

	all, err := store.ListTools(ctx, ToolFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "two", all[0].ExportName, "highest score first")

	byPkg, err := store.ListTools(ctx, ToolFilter{PackageName: "a"})
	require.NoError(t, err)
	assert.Len(t, byPkg, 2)

	broken, err := store.ListTools(ctx, ToolFilter{BrokenOnly: true})
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, "three", broken[0].ExportName)

	limited, err := store.ListTools(ctx, ToolFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPackage(t, store, "pkg")

	first := &Tool{PackageName: "pkg", ExportName: "first"}
	second := &Tool{PackageName: "pkg", ExportName: "second"}
	require.NoError(t, store.UpsertTool(ctx, first))
	require.NoError(t, store.UpsertTool(ctx, second))

	c := &Collection{
		Slug:     "dates",
		Name:     "Date tools",
		Public:   true,
		Executor: json.RawMessage(`{"type":"default"}`),
	}
	require.NoError(t, store.UpsertCollection(ctx, c))
	require.NoError(t, store.SetCollectionTools(ctx, "dates", []string{second.ID, first.ID}))

	got, err := store.GetCollection(ctx, "dates")
	require.NoError(t, err)
	assert.True(t, got.Public)
	assert.JSONEq(t, `{"type":"default"}`, string(got.Executor))

	tools, err := store.ListCollectionTools(ctx, "dates")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "second", tools[0].ExportName)
	assert.Equal(t, "first", tools[1].ExportName)

	err = store.SetCollectionTools(ctx, "dates", []string{"missing-id"})
	assert.True(t, errors.Is(err, ErrInvalidEntity), "got %v", err)

	_, err = store.ListCollectionTools(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedPackage(t *testing.T, store Store, name string) {
	t.Helper()
	require.NoError(t, store.UpsertPackage(context.Background(), &Package{Name: name, Version: "1.0.0"}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}
