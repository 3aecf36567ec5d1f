// ABOUTME: Store interface and data types for toolshed persistence
// ABOUTME: Defines Package, Tool, Collection rows and the health tri-state

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidEntity is returned when a row is missing a required key field
var ErrInvalidEntity = errors.New("invalid entity")

// HealthState is the tri-state result of a tool health probe.
type HealthState string

const (
	HealthHealthy HealthState = "HEALTHY"
	HealthBroken  HealthState = "BROKEN"
	HealthUnknown HealthState = "UNKNOWN" // never checked, or check not attempted
)

// Valid reports whether h is one of the known states.
func (h HealthState) Valid() bool {
	switch h {
	case HealthHealthy, HealthBroken, HealthUnknown:
		return true
	}
	return false
}

// Tier classifies how much structured metadata a package author supplied.
type Tier string

const (
	TierMinimal Tier = "minimal"
	TierRich    Tier = "rich"
)

// DiscoveryMethod records how a package first entered the index.
type DiscoveryMethod string

const (
	DiscoveryChangesFeed   DiscoveryMethod = "changes-feed"
	DiscoveryKeywordSearch DiscoveryMethod = "keyword-search"
	DiscoveryManual        DiscoveryMethod = "manual"
)

// Valid reports whether d is one of the known discovery methods.
func (d DiscoveryMethod) Valid() bool {
	switch d {
	case DiscoveryChangesFeed, DiscoveryKeywordSearch, DiscoveryManual:
		return true
	}
	return false
}

// SchemaSource records where a tool's input schema came from.
type SchemaSource string

const (
	SchemaExtracted SchemaSource = "extracted"
	SchemaAuthor    SchemaSource = "author"
	SchemaNone      SchemaSource = "none" // flagged for manual review
)

// Package is one npm package. Name is the unique key.
type Package struct {
	Name             string
	Version          string
	PublishedAt      *time.Time
	Description      string
	Readme           string
	Keywords         []string
	Repository       string
	Homepage         string
	License          string
	DiscoveryMethod  DiscoveryMethod
	Official         bool
	MonthlyDownloads *int64 // nil when the downloads service was unreachable
	Tier             Tier
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Tool is one exported callable within a Package.
// (PackageName, ExportName) is unique.
type Tool struct {
	ID                string
	PackageName       string
	ExportName        string
	Description       string
	InputSchema       json.RawMessage // empty when no schema could be obtained
	SchemaSource      SchemaSource
	SchemaExtractedAt *time.Time
	NeedsReview       bool
	ImportHealth      HealthState
	ExecutionHealth   HealthState
	LastHealthCheck   *time.Time
	HealthCheckError  *string
	QualityScore      float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsBroken reports whether either health dimension is BROKEN.
// UNKNOWN is neither broken nor healthy.
func (t *Tool) IsBroken() bool {
	return t.ImportHealth == HealthBroken || t.ExecutionHealth == HealthBroken
}

// QualifiedName returns "package/export", the name used on the MCP surface.
func (t *Tool) QualifiedName() string {
	return t.PackageName + "/" + t.ExportName
}

// HealthUpdate carries the result of one health check for one tool.
type HealthUpdate struct {
	ImportHealth    HealthState
	ExecutionHealth HealthState
	CheckedAt       time.Time
	Error           *string
}

// Collection is a curated, slug-addressed set of tools with its own
// executor configuration. Public collections are served over MCP.
type Collection struct {
	Slug        string
	Name        string
	Description string
	Public      bool
	Executor    json.RawMessage // serialized executor config, empty means default
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToolFilter narrows ListTools results.
type ToolFilter struct {
	PackageName string
	BrokenOnly  bool
	Limit       int // 0 means no limit
}

// Store defines the persistence operations used by the registry engine
type Store interface {
	// Packages
	UpsertPackage(ctx context.Context, pkg *Package) error
	GetPackage(ctx context.Context, name string) (*Package, error)
	ListPackages(ctx context.Context) ([]*Package, error)

	// Tools
	UpsertTool(ctx context.Context, tool *Tool) error
	GetTool(ctx context.Context, packageName, exportName string) (*Tool, error)
	GetToolByID(ctx context.Context, id string) (*Tool, error)
	ListTools(ctx context.Context, filter ToolFilter) ([]*Tool, error)
	UpdateToolHealth(ctx context.Context, id string, update HealthUpdate) error
	UpdateToolScore(ctx context.Context, id string, score float64) error

	// Collections
	UpsertCollection(ctx context.Context, c *Collection) error
	GetCollection(ctx context.Context, slug string) (*Collection, error)
	SetCollectionTools(ctx context.Context, slug string, toolIDs []string) error
	ListCollectionTools(ctx context.Context, slug string) ([]*Tool, error)

	// Close releases any resources held by the store
	Close() error
}
