// ABOUTME: Package persistence for SQLiteStore
// ABOUTME: Idempotent upsert keyed by npm package name

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const packageColumns = `name, version, published_at, description, readme, keywords_json,
	repository, homepage, license, discovery_method, official, monthly_downloads,
	tier, created_at, updated_at`

// UpsertPackage inserts a package or refreshes the existing row with the same
// name. CreatedAt is preserved across re-syncs; UpdatedAt always advances.
func (s *SQLiteStore) UpsertPackage(ctx context.Context, pkg *Package) error {
	if strings.TrimSpace(pkg.Name) == "" {
		return fmt.Errorf("%w: package name is required", ErrInvalidEntity)
	}
	if pkg.DiscoveryMethod == "" {
		pkg.DiscoveryMethod = DiscoveryManual
	}
	if pkg.Tier == "" {
		pkg.Tier = TierMinimal
	}

	keywords := pkg.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	now := time.Now()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now

	var downloads any
	if pkg.MonthlyDownloads != nil {
		downloads = *pkg.MonthlyDownloads
	}

	var createdAt string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			published_at = excluded.published_at,
			description = excluded.description,
			readme = excluded.readme,
			keywords_json = excluded.keywords_json,
			repository = excluded.repository,
			homepage = excluded.homepage,
			license = excluded.license,
			official = excluded.official,
			monthly_downloads = excluded.monthly_downloads,
			tier = excluded.tier,
			updated_at = excluded.updated_at
		RETURNING created_at
	`,
		pkg.Name,
		pkg.Version,
		formatTimePtr(pkg.PublishedAt),
		pkg.Description,
		pkg.Readme,
		string(keywordsJSON),
		pkg.Repository,
		pkg.Homepage,
		pkg.License,
		string(pkg.DiscoveryMethod),
		boolToInt(pkg.Official),
		downloads,
		string(pkg.Tier),
		formatTime(pkg.CreatedAt),
		formatTime(pkg.UpdatedAt),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("upserting package %s: %w", pkg.Name, err)
	}
	pkg.CreatedAt = parseTime(createdAt)

	s.logger.Debug("upserted package", "name", pkg.Name, "version", pkg.Version)
	return nil
}

// GetPackage retrieves a package by name.
// Returns ErrNotFound if the package doesn't exist.
func (s *SQLiteStore) GetPackage(ctx context.Context, name string) (*Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	pkg, err := scanPackage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying package: %w", err)
	}
	return pkg, nil
}

// ListPackages returns every package ordered by name.
func (s *SQLiteStore) ListPackages(ctx context.Context) ([]*Package, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+packageColumns+` FROM packages ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying packages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pkgs []*Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*Package, error) {
	var (
		pkg          Package
		publishedAt  sql.NullString
		keywordsJSON string
		method, tier string
		official     int
		downloads    sql.NullInt64
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&pkg.Name,
		&pkg.Version,
		&publishedAt,
		&pkg.Description,
		&pkg.Readme,
		&keywordsJSON,
		&pkg.Repository,
		&pkg.Homepage,
		&pkg.License,
		&method,
		&official,
		&downloads,
		&tier,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	pkg.PublishedAt = parseTimePtr(publishedAt)
	if err := json.Unmarshal([]byte(keywordsJSON), &pkg.Keywords); err != nil {
		return nil, fmt.Errorf("decoding keywords for %s: %w", pkg.Name, err)
	}
	pkg.DiscoveryMethod = DiscoveryMethod(method)
	pkg.Official = official != 0
	if downloads.Valid {
		d := downloads.Int64
		pkg.MonthlyDownloads = &d
	}
	pkg.Tier = Tier(tier)
	pkg.CreatedAt = parseTime(createdAt)
	pkg.UpdatedAt = parseTime(updatedAt)
	return &pkg, nil
}
