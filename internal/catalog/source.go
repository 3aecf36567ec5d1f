// ABOUTME: MetadataSource backed by a directory of package metadata JSON files.
// ABOUTME: Lets operators seed or re-sync packages without a registry client.

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrPackageNotFound indicates a source has no metadata for a package.
var ErrPackageNotFound = errors.New("package not found")

// DirSource reads <dir>/<name>.json. Scoped names resolve into a
// subdirectory, so @acme/tools is <dir>/@acme/tools.json.
type DirSource string

// FetchPackage implements MetadataSource.
func (d DirSource) FetchPackage(ctx context.Context, name string) (*PackageMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The name is validated before it is joined onto the directory.
	if !npmName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q is not a valid npm package name", ErrInvalidPackage, name)
	}

	path := filepath.Join(string(d), filepath.FromSlash(name)+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var meta PackageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidPackage, path, err)
	}
	if meta.Name != name {
		return nil, fmt.Errorf("%w: %s declares package %q", ErrInvalidPackage, path, meta.Name)
	}
	return &meta, nil
}
