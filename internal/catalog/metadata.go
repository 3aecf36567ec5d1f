// ABOUTME: Package metadata as delivered by discovery, plus validation and tier derivation.
// ABOUTME: The npm fetch client itself lives outside this module behind MetadataSource.

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/2389/toolshed/internal/schema"
	"github.com/2389/toolshed/internal/store"
)

// ErrInvalidPackage indicates package metadata cannot be indexed.
var ErrInvalidPackage = errors.New("invalid package")

// npmName matches scoped and unscoped npm package names.
var npmName = regexp.MustCompile(`^(@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

// Export is one callable a package declares as an agent tool.
type Export struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Parameters is nil when the author declared none.
	Parameters    []schema.Param  `json:"parameters,omitempty"`
	Returns       json.RawMessage `json:"returns,omitempty"`
	AgentGuidance string          `json:"agentGuidance,omitempty"`
}

// PackageMetadata is a discovered package and its tool exports.
type PackageMetadata struct {
	Name             string                `json:"name"`
	Version          string                `json:"version"`
	PublishedAt      *time.Time            `json:"publishedAt,omitempty"`
	Description      string                `json:"description,omitempty"`
	Readme           string                `json:"readme,omitempty"`
	Keywords         []string              `json:"keywords,omitempty"`
	Repository       string                `json:"repository,omitempty"`
	Homepage         string                `json:"homepage,omitempty"`
	License          string                `json:"license,omitempty"`
	DiscoveryMethod  store.DiscoveryMethod `json:"discoveryMethod,omitempty"`
	Official         bool                  `json:"official,omitempty"`
	MonthlyDownloads *int64                `json:"monthlyDownloads,omitempty"`
	Exports          []Export              `json:"exports"`
}

// MetadataSource fetches package metadata from a registry such as npm.
type MetadataSource interface {
	FetchPackage(ctx context.Context, name string) (*PackageMetadata, error)
}

// Validate checks the fields indexing depends on.
func (m *PackageMetadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: metadata is required", ErrInvalidPackage)
	}
	if !npmName.MatchString(m.Name) || len(m.Name) > 214 {
		return fmt.Errorf("%w: %q is not a valid npm package name", ErrInvalidPackage, m.Name)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidPackage)
	}
	if m.DiscoveryMethod != "" && !m.DiscoveryMethod.Valid() {
		return fmt.Errorf("%w: unknown discovery method %q", ErrInvalidPackage, m.DiscoveryMethod)
	}
	if m.MonthlyDownloads != nil && *m.MonthlyDownloads < 0 {
		return fmt.Errorf("%w: monthly downloads cannot be negative", ErrInvalidPackage)
	}
	if len(m.Exports) == 0 {
		return fmt.Errorf("%w: at least one export is required", ErrInvalidPackage)
	}
	seen := make(map[string]bool, len(m.Exports))
	for _, e := range m.Exports {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return fmt.Errorf("%w: export name is required", ErrInvalidPackage)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate export %q", ErrInvalidPackage, name)
		}
		seen[name] = true
	}
	return nil
}

// Tier is rich when any export carries structured author metadata.
func (m *PackageMetadata) Tier() store.Tier {
	for _, e := range m.Exports {
		if e.Parameters != nil || len(e.Returns) > 0 || strings.TrimSpace(e.AgentGuidance) != "" {
			return store.TierRich
		}
	}
	return store.TierMinimal
}

// toPackage converts metadata into the stored row.
func (m *PackageMetadata) toPackage() *store.Package {
	method := m.DiscoveryMethod
	if method == "" {
		method = store.DiscoveryManual
	}
	return &store.Package{
		Name:             m.Name,
		Version:          m.Version,
		PublishedAt:      m.PublishedAt,
		Description:      m.Description,
		Readme:           m.Readme,
		Keywords:         m.Keywords,
		Repository:       m.Repository,
		Homepage:         m.Homepage,
		License:          m.License,
		DiscoveryMethod:  method,
		Official:         m.Official,
		MonthlyDownloads: m.MonthlyDownloads,
		Tier:             m.Tier(),
	}
}
