// ABOUTME: Tool persistence for SQLiteStore
// ABOUTME: Upsert by (package, export), health updates ordered by check time, score cache

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const toolColumns = `id, package_name, export_name, description, input_schema, schema_source,
	schema_extracted_at, needs_review, import_health, execution_health, last_health_check,
	health_check_error, quality_score, created_at, updated_at`

// UpsertTool inserts a tool or refreshes the schema fields of the existing
// (package, export) row. Identity, health fields and the cached score are
// owned by other writers and survive re-registration. On return tool.ID and
// tool.CreatedAt reflect the stored row.
func (s *SQLiteStore) UpsertTool(ctx context.Context, tool *Tool) error {
	if strings.TrimSpace(tool.PackageName) == "" || strings.TrimSpace(tool.ExportName) == "" {
		return fmt.Errorf("%w: tool package and export name are required", ErrInvalidEntity)
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

	now := time.Now()
	if tool.CreatedAt.IsZero() {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now

	var inputSchema any
	if len(tool.InputSchema) > 0 {
		inputSchema = string(tool.InputSchema)
	}

	var id, createdAt string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tools (`+toolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(package_name, export_name) DO UPDATE SET
			description = excluded.description,
			input_schema = excluded.input_schema,
			schema_source = excluded.schema_source,
			schema_extracted_at = excluded.schema_extracted_at,
			needs_review = excluded.needs_review,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`,
		tool.ID,
		tool.PackageName,
		tool.ExportName,
		tool.Description,
		inputSchema,
		string(tool.SchemaSource),
		formatTimePtr(tool.SchemaExtractedAt),
		boolToInt(tool.NeedsReview),
		string(tool.ImportHealth),
		string(tool.ExecutionHealth),
		formatTimePtr(tool.LastHealthCheck),
		nullStringPtr(tool.HealthCheckError),
		tool.QualityScore,
		formatTime(tool.CreatedAt),
		formatTime(tool.UpdatedAt),
	).Scan(&id, &createdAt)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: upserting tool %s/%s: %v", ErrInvalidEntity, tool.PackageName, tool.ExportName, err)
		}
		return fmt.Errorf("upserting tool %s/%s: %w", tool.PackageName, tool.ExportName, err)
	}
	tool.ID = id
	tool.CreatedAt = parseTime(createdAt)

	s.logger.Debug("upserted tool", "id", tool.ID, "package", tool.PackageName, "export", tool.ExportName)
	return nil
}

// GetTool retrieves a tool by its package and export name.
// Returns ErrNotFound if the tool doesn't exist.
func (s *SQLiteStore) GetTool(ctx context.Context, packageName, exportName string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE package_name = ? AND export_name = ?`,
		packageName, exportName)
	return s.getTool(row)
}

// GetToolByID retrieves a tool by ID.
// Returns ErrNotFound if the tool doesn't exist.
func (s *SQLiteStore) GetToolByID(ctx context.Context, id string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = ?`, id)
	return s.getTool(row)
}

func (s *SQLiteStore) getTool(row *sql.Row) (*Tool, error) {
	tool, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tool: %w", err)
	}
	return tool, nil
}

// ListTools returns tools ordered by quality score (highest first), then name.
func (s *SQLiteStore) ListTools(ctx context.Context, filter ToolFilter) ([]*Tool, error) {
	var (
		where []string
		args  []any
	)
	if filter.PackageName != "" {
		where = append(where, "package_name = ?")
		args = append(args, filter.PackageName)
	}
	if filter.BrokenOnly {
		where = append(where, "(import_health = 'BROKEN' OR execution_health = 'BROKEN')")
	}

	query := `SELECT ` + toolColumns + ` FROM tools`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY quality_score DESC, package_name ASC, export_name ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tools: %w", err)
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

// UpdateToolHealth records one health check. An update older than the stored
// last_health_check is ignored, so the latest check always wins regardless
// of the order concurrent sweeps finish in.
func (s *SQLiteStore) UpdateToolHealth(ctx context.Context, id string, update HealthUpdate) error {
	if !update.ImportHealth.Valid() || !update.ExecutionHealth.Valid() {
		return fmt.Errorf("%w: invalid health state", ErrInvalidEntity)
	}

	checkedAt := formatTime(update.CheckedAt)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tools SET
			import_health = ?,
			execution_health = ?,
			last_health_check = ?,
			health_check_error = ?
		WHERE id = ? AND (last_health_check IS NULL OR last_health_check <= ?)
	`,
		string(update.ImportHealth),
		string(update.ExecutionHealth),
		checkedAt,
		nullStringPtr(update.Error),
		id,
		checkedAt,
	)
	if err != nil {
		return fmt.Errorf("updating tool health: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		// Either the tool is gone or a newer check already landed.
		if _, err := s.GetToolByID(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("ignored stale health update", "id", id, "checked_at", checkedAt)
	}
	return nil
}

// UpdateToolScore caches a freshly derived quality score on the tool row.
func (s *SQLiteStore) UpdateToolScore(ctx context.Context, id string, score float64) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: quality score %v out of range", ErrInvalidEntity, score)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE tools SET quality_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("updating tool score: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTool(row rowScanner) (*Tool, error) {
	var (
		tool              Tool
		inputSchema       sql.NullString
		schemaSource      string
		schemaExtractedAt sql.NullString
		needsReview       int
		importHealth      string
		executionHealth   string
		lastHealthCheck   sql.NullString
		healthCheckError  sql.NullString
		createdAt         string
		updatedAt         string
	)
	err := row.Scan(
		&tool.ID,
		&tool.PackageName,
		&tool.ExportName,
		&tool.Description,
		&inputSchema,
		&schemaSource,
		&schemaExtractedAt,
		&needsReview,
		&importHealth,
		&executionHealth,
		&lastHealthCheck,
		&healthCheckError,
		&tool.QualityScore,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if inputSchema.Valid && inputSchema.String != "" {
		tool.InputSchema = []byte(inputSchema.String)
	}
	tool.SchemaSource = SchemaSource(schemaSource)
	tool.SchemaExtractedAt = parseTimePtr(schemaExtractedAt)
	tool.NeedsReview = needsReview != 0
	tool.ImportHealth = HealthState(importHealth)
	tool.ExecutionHealth = HealthState(executionHealth)
	tool.LastHealthCheck = parseTimePtr(lastHealthCheck)
	if healthCheckError.Valid {
		msg := healthCheckError.String
		tool.HealthCheckError = &msg
	}
	tool.CreatedAt = parseTime(createdAt)
	tool.UpdatedAt = parseTime(updatedAt)
	return &tool, nil
}
