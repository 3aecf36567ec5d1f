// ABOUTME: Collection persistence for SQLiteStore
// ABOUTME: Slug-addressed tool sets with an attached executor configuration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertCollection creates or updates a collection by slug.
func (s *SQLiteStore) UpsertCollection(ctx context.Context, c *Collection) error {
	if strings.TrimSpace(c.Slug) == "" {
		return fmt.Errorf("%w: collection slug is required", ErrInvalidEntity)
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	var executorJSON any
	if len(c.Executor) > 0 {
		executorJSON = string(c.Executor)
	}

	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO collections (slug, name, description, public, executor_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			public = excluded.public,
			executor_json = excluded.executor_json,
			updated_at = excluded.updated_at
		RETURNING created_at
	`,
		c.Slug,
		c.Name,
		c.Description,
		boolToInt(c.Public),
		executorJSON,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("upserting collection %s: %w", c.Slug, err)
	}
	c.CreatedAt = parseTime(createdAt)
	return nil
}

// GetCollection retrieves a collection by slug.
// Returns ErrNotFound if the collection doesn't exist.
func (s *SQLiteStore) GetCollection(ctx context.Context, slug string) (*Collection, error) {
	var (
		c            Collection
		public       int
		executorJSON sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT slug, name, description, public, executor_json, created_at, updated_at
		FROM collections WHERE slug = ?
	`, slug).Scan(&c.Slug, &c.Name, &c.Description, &public, &executorJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	c.Public = public != 0
	if executorJSON.Valid && executorJSON.String != "" {
		c.Executor = []byte(executorJSON.String)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// SetCollectionTools replaces the collection's membership with toolIDs, in order.
func (s *SQLiteStore) SetCollectionTools(ctx context.Context, slug string, toolIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE slug = ?`, slug).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("checking collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_tools WHERE collection_slug = ?`, slug); err != nil {
		return fmt.Errorf("clearing collection tools: %w", err)
	}
	for i, id := range toolIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO collection_tools (collection_slug, tool_id, position) VALUES (?, ?, ?)
		`, slug, id, i); err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: tool %s", ErrInvalidEntity, id)
			}
			return fmt.Errorf("adding tool %s to collection: %w", id, err)
		}
	}

	return tx.Commit()
}

// ListCollectionTools returns the collection's tools in membership order.
// Returns ErrNotFound if the collection doesn't exist.
func (s *SQLiteStore) ListCollectionTools(ctx context.Context, slug string) ([]*Tool, error) {
	if _, err := s.GetCollection(ctx, slug); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("t.", toolColumns)+`
		FROM collection_tools ct
		JOIN tools t ON t.id = ct.tool_id
		WHERE ct.collection_slug = ?
		ORDER BY ct.position ASC
	`, slug)
	if err != nil {
		return nil, fmt.Errorf("querying collection tools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tools []*Tool
	for rows.Next() {
		tool, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool: %w", err)
		}
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}

// prefixColumns qualifies each column in a comma-separated list with prefix.
func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
