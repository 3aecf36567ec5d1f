// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL/foreign keys, creates and migrates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps compare lexically in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS packages (
			name              TEXT PRIMARY KEY,
			version           TEXT NOT NULL,
			published_at      TEXT,
			description       TEXT NOT NULL DEFAULT '',
			keywords_json     TEXT NOT NULL DEFAULT '[]',
			repository        TEXT NOT NULL DEFAULT '',
			homepage          TEXT NOT NULL DEFAULT '',
			license           TEXT NOT NULL DEFAULT '',
			discovery_method  TEXT NOT NULL,
			official          INTEGER NOT NULL DEFAULT 0,
			monthly_downloads INTEGER,
			tier              TEXT NOT NULL DEFAULT 'minimal',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (discovery_method IN ('changes-feed', 'keyword-search', 'manual')),
			CHECK (tier IN ('minimal', 'rich'))
		);

		CREATE TABLE IF NOT EXISTS tools (
			id                  TEXT PRIMARY KEY,
			package_name        TEXT NOT NULL REFERENCES packages(name) ON DELETE CASCADE,
			export_name         TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			input_schema        TEXT,
			schema_source       TEXT NOT NULL DEFAULT 'none',
			schema_extracted_at TEXT,
			import_health       TEXT NOT NULL DEFAULT 'UNKNOWN',
			execution_health    TEXT NOT NULL DEFAULT 'UNKNOWN',
			last_health_check   TEXT,
			health_check_error  TEXT,
			quality_score       REAL NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL,

			UNIQUE(package_name, export_name),
			CHECK (schema_source IN ('extracted', 'author', 'none')),
			CHECK (import_health IN ('HEALTHY', 'BROKEN', 'UNKNOWN')),
			CHECK (execution_health IN ('HEALTHY', 'BROKEN', 'UNKNOWN')),
			CHECK (quality_score >= 0 AND quality_score <= 1)
		);

		CREATE INDEX IF NOT EXISTS idx_tools_package ON tools(package_name);
		CREATE INDEX IF NOT EXISTS idx_tools_score ON tools(quality_score DESC);

		CREATE TABLE IF NOT EXISTS collections (
			slug          TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			public        INTEGER NOT NULL DEFAULT 0,
			executor_json TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS collection_tools (
			collection_slug TEXT NOT NULL REFERENCES collections(slug) ON DELETE CASCADE,
			tool_id         TEXT NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,

			PRIMARY KEY (collection_slug, tool_id)
		);

		CREATE INDEX IF NOT EXISTS idx_collection_tools_position
			ON collection_tools(collection_slug, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "packages",
			column: "readme",
			apply:  `ALTER TABLE packages ADD COLUMN readme TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "tools",
			column: "needs_review",
			apply:  `ALTER TABLE tools ADD COLUMN needs_review INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
