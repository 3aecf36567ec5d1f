// ABOUTME: End-to-end test: index a package, sweep it against an HTTP sandbox, rescore
// ABOUTME: Uses the SQLite store and the real executor client

package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/2389/toolshed/internal/catalog"
	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/health"
	"github.com/2389/toolshed/internal/quality"
	"github.com/2389/toolshed/internal/search"
	"github.com/2389/toolshed/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sandboxServer serves formatDate with inputSchema and records the arguments
// it was executed with.
type sandboxServer struct {
	inputSchema string

	mu   sync.Mutex
	args []map[string]any
}

func (s *sandboxServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/load-and-describe":
		_, _ = w.Write([]byte(`{"success":true,"tool":{"description":"Formats a date","inputSchema":` + s.inputSchema + `}}`))
	case "/execute":
		var req executor.ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.args = append(s.args, req.Args)
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true,"output":"January 1, 2024"}`))
	default:
		http.NotFound(w, r)
	}
}

func TestIndexSweepRescore_FormatDate(t *testing.T) {
	tests := []struct {
		name        string
		inputSchema string
		score       float64
	}{
		{
			// completeness 2/3: the date param has no description
			name:        "undescribed param",
			inputSchema: `{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}`,
			score:       0.52,
		},
		{
			name:        "described param",
			inputSchema: `{"type":"object","properties":{"date":{"type":"string","description":"ISO date to format"}},"required":["date"]}`,
			score:       0.65,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indexSweepRescore(t, tt.inputSchema, tt.score)
		})
	}
}

func indexSweepRescore(t *testing.T, inputSchema string, wantScore float64) {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "toolshed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sandbox := &sandboxServer{inputSchema: inputSchema}
	srv := httptest.NewServer(sandbox)
	t.Cleanup(srv.Close)
	client := executor.NewClient(executor.ClientConfig{Sandbox: executor.Target{BaseURL: srv.URL}})

	idx, err := search.New(st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	zero := int64(0)
	indexer := catalog.NewIndexer(catalog.IndexerConfig{
		Store:     st,
		Extractor: catalog.NewExtractor(client, nil),
		Search:    idx,
	})
	report, err := indexer.Index(ctx, &catalog.PackageMetadata{
		Name:             "@acme/tools",
		Version:          "1.0.0",
		DiscoveryMethod:  store.DiscoveryManual,
		MonthlyDownloads: &zero,
		Exports:          []catalog.Export{{Name: "formatDate"}},
	})
	require.NoError(t, err)
	require.Len(t, report.Tools, 1)
	assert.Equal(t, store.SchemaExtracted, report.Tools[0].SchemaSource)

	tool, err := st.GetTool(ctx, "@acme/tools", "formatDate")
	require.NoError(t, err)
	assert.Equal(t, store.HealthUnknown, tool.ImportHealth)
	assert.Equal(t, store.HealthUnknown, tool.ExecutionHealth)

	now := time.Now().UTC().Truncate(time.Second)
	scheduler := health.NewScheduler(health.Config{
		Store:    st,
		Sandbox:  client,
		Rescorer: quality.NewRescorer(st, nil, nil),
	})
	sweep, err := scheduler.RunSweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Healthy)
	require.NotNil(t, sweep.Rescore)
	assert.Equal(t, 1, sweep.Rescore.Updated)

	sandbox.mu.Lock()
	assert.Equal(t, []map[string]any{{"date": "test"}}, sandbox.args)
	sandbox.mu.Unlock()

	tool, err = st.GetTool(ctx, "@acme/tools", "formatDate")
	require.NoError(t, err)
	assert.Equal(t, store.HealthHealthy, tool.ImportHealth)
	assert.Equal(t, store.HealthHealthy, tool.ExecutionHealth)
	require.NotNil(t, tool.LastHealthCheck)
	assert.True(t, tool.LastHealthCheck.Equal(now))
	assert.Equal(t, wantScore, tool.QualityScore)

	found, err := idx.Search(ctx, "date", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "@acme/tools/formatDate", found[0].QualifiedName())
	assert.Equal(t, wantScore, found[0].QualityScore)
}
