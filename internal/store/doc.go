// Package store provides persistent storage for the registry using SQLite.
//
// # Data Models
//
//   - Package: one row per npm package, keyed by name
//   - Tool: one row per exported callable, unique on (package, export)
//   - Collection: a slug-addressed tool set with its own executor config
//
// Tools carry two HealthState values (import and execution). A tool is
// broken when either is BROKEN; UNKNOWN means the check was never attempted.
// Broken tools are labelled, never removed.
//
// # Write Ownership
//
// UpsertTool only touches schema fields. Health fields are written by the
// health scheduler through UpdateToolHealth, and the cached quality score by
// the quality rescorer through UpdateToolScore. Health updates older than the
// stored check time are ignored.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for integration tests and NewMockStore()
// for unit tests.
package store
