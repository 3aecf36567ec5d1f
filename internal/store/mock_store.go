// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while honouring the same upsert rules

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	packages    map[string]*Package    // keyed by package name
	tools       map[string]*Tool       // keyed by tool ID
	toolIndex   map[string]string      // keyed by "package\x00export" -> tool ID
	collections map[string]*Collection // keyed by slug
	members     map[string][]string    // keyed by slug -> ordered tool IDs

	// HealthUpdates counts UpdateToolHealth calls per tool ID.
	HealthUpdates map[string]int
	// FailHealthUpdate, when set, is returned by UpdateToolHealth for that tool ID.
	FailHealthUpdate map[string]error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		packages:         make(map[string]*Package),
		tools:            make(map[string]*Tool),
		toolIndex:        make(map[string]string),
		collections:      make(map[string]*Collection),
		members:          make(map[string][]string),
		HealthUpdates:    make(map[string]int),
		FailHealthUpdate: make(map[string]error),
	}
}

func toolKey(packageName, exportName string) string {
	return packageName + "\x00" + exportName
}

// UpsertPackage stores or refreshes a package by name.
func (m *MockStore) UpsertPackage(ctx context.Context, pkg *Package) error {
	if strings.TrimSpace(pkg.Name) == "" {
		return fmt.Errorf("%w: package name is required", ErrInvalidEntity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if pkg.DiscoveryMethod == "" {
		pkg.DiscoveryMethod = DiscoveryManual
	}
	if pkg.Tier == "" {
		pkg.Tier = TierMinimal
	}
	if existing, ok := m.packages[pkg.Name]; ok {
		pkg.CreatedAt = existing.CreatedAt
		pkg.DiscoveryMethod = existing.DiscoveryMethod
	} else if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now

	p := *pkg
	m.packages[p.Name] = &p
	return nil
}

// GetPackage retrieves a package by name.
func (m *MockStore) GetPackage(ctx context.Context, name string) (*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.packages[name]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// ListPackages returns all packages ordered by name.
func (m *MockStore) ListPackages(ctx context.Context) ([]*Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pkgs := make([]*Package, 0, len(m.packages))
	for _, p := range m.packages {
		c := *p
		pkgs = append(pkgs, &c)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// UpsertTool stores a tool or refreshes the schema fields of an existing one.
func (m *MockStore) UpsertTool(ctx context.Context, tool *Tool) error {
	if strings.TrimSpace(tool.PackageName) == "" || strings.TrimSpace(tool.ExportName) == "" {
		return fmt.Errorf("%w: tool package and export name are required", ErrInvalidEntity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.packages[tool.PackageName]; !ok {
		return fmt.Errorf("%w: package %s does not exist", ErrInvalidEntity, tool.PackageName)
	}

	now := time.Now()
	key := toolKey(tool.PackageName, tool.ExportName)
	if id, ok := m.toolIndex[key]; ok {
		existing := m.tools[id]
		existing.Description = tool.Description
		existing.InputSchema = tool.InputSchema
		existing.SchemaSource = tool.SchemaSource
		existing.SchemaExtractedAt = tool.SchemaExtractedAt
		existing.NeedsReview = tool.NeedsReview
		existing.UpdatedAt = now
		tool.ID = existing.ID
		tool.CreatedAt = existing.CreatedAt
		tool.UpdatedAt = now
		return nil
	}

	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}
	if tool.SchemaSource == "" {
		tool.SchemaSource = SchemaNone
	}
	if tool.ImportHealth == "" {
		tool.ImportHealth = HealthUnknown
	}
	if tool.ExecutionHealth == "" {
		tool.ExecutionHealth = HealthUnknown
	}
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now

	t := *tool
	m.tools[t.ID] = &t
	m.toolIndex[key] = t.ID
	return nil
}

// GetTool retrieves a tool by package and export name.
func (m *MockStore) GetTool(ctx context.Context, packageName, exportName string) (*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.toolIndex[toolKey(packageName, exportName)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.tools[id]
	return &result, nil
}

// GetToolByID retrieves a tool by ID.
func (m *MockStore) GetToolByID(ctx context.Context, id string) (*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tools[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// ListTools returns tools ordered by quality score, then name.
func (m *MockStore) ListTools(ctx context.Context, filter ToolFilter) ([]*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tools []*Tool
	for _, t := range m.tools {
		if filter.PackageName != "" && t.PackageName != filter.PackageName {
			continue
		}
		if filter.BrokenOnly && !t.IsBroken() {
			continue
		}
		c := *t
		tools = append(tools, &c)
	}
	sortTools(tools)
	if filter.Limit > 0 && len(tools) > filter.Limit {
		tools = tools[:filter.Limit]
	}
	return tools, nil
}

func sortTools(tools []*Tool) {
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].QualityScore != tools[j].QualityScore {
			return tools[i].QualityScore > tools[j].QualityScore
		}
		if tools[i].PackageName != tools[j].PackageName {
			return tools[i].PackageName < tools[j].PackageName
		}
		return tools[i].ExportName < tools[j].ExportName
	})
}

// UpdateToolHealth records a health check unless a newer one already landed.
func (m *MockStore) UpdateToolHealth(ctx context.Context, id string, update HealthUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.HealthUpdates[id]++
	if err := m.FailHealthUpdate[id]; err != nil {
		return err
	}

	t, ok := m.tools[id]
	if !ok {
		return ErrNotFound
	}
	if t.LastHealthCheck != nil && update.CheckedAt.Before(*t.LastHealthCheck) {
		return nil
	}
	checkedAt := update.CheckedAt
	t.ImportHealth = update.ImportHealth
	t.ExecutionHealth = update.ExecutionHealth
	t.LastHealthCheck = &checkedAt
	t.HealthCheckError = update.Error
	return nil
}

// HealthUpdateCount returns how many health updates were attempted for id.
func (m *MockStore) HealthUpdateCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.HealthUpdates[id]
}

// UpdateToolScore caches a quality score.
func (m *MockStore) UpdateToolScore(ctx context.Context, id string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: quality score %v out of range", ErrInvalidEntity, score)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tools[id]
	if !ok {
		return ErrNotFound
	}
	t.QualityScore = score
	return nil
}

// UpsertCollection stores or updates a collection by slug.
func (m *MockStore) UpsertCollection(ctx context.Context, c *Collection) error {
	if strings.TrimSpace(c.Slug) == "" {
		return fmt.Errorf("%w: collection slug is required", ErrInvalidEntity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.collections[c.Slug]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cc := *c
	m.collections[c.Slug] = &cc
	return nil
}

// GetCollection retrieves a collection by slug.
func (m *MockStore) GetCollection(ctx context.Context, slug string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[slug]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// SetCollectionTools replaces a collection's membership.
func (m *MockStore) SetCollectionTools(ctx context.Context, slug string, toolIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[slug]; !ok {
		return ErrNotFound
	}
	for _, id := range toolIDs {
		if _, ok := m.tools[id]; !ok {
			return fmt.Errorf("%w: tool %s", ErrInvalidEntity, id)
		}
	}
	m.members[slug] = append([]string(nil), toolIDs...)
	return nil
}

// ListCollectionTools returns a collection's tools in membership order.
func (m *MockStore) ListCollectionTools(ctx context.Context, slug string) ([]*Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.collections[slug]; !ok {
		return nil, ErrNotFound
	}
	var tools []*Tool
	for _, id := range m.members[slug] {
		if t, ok := m.tools[id]; ok {
			c := *t
			tools = append(tools, &c)
		}
	}
	return tools, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
