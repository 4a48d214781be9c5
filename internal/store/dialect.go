package store

import "fmt"

// Dialect abstracts the database-specific SQL the store needs. The schema
// is fixed and small, so this is a fraction of a general-purpose dialect:
// placeholders, DDL, and the record upsert.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// SystemTablesSQL returns the DDL for the system tables.
	SystemTablesSQL() string

	// UpsertRecordSQL returns the insert-or-replace statement for the
	// durable record table, taking (key, data).
	UpsertRecordSQL() string
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	if driver == "sqlite" {
		return &SQLiteDialect{}
	}
	return &PostgresDialect{}
}

// --- PostgreSQL ---

type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return `
CREATE TABLE IF NOT EXISTS _permhub_store (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS _permhub_credentials (
	user_id       TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS _permhub_refresh_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`
}

func (d *PostgresDialect) UpsertRecordSQL() string {
	return `INSERT INTO _permhub_store (key, data, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
}

// --- SQLite ---

type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return `
CREATE TABLE IF NOT EXISTS _permhub_store (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS _permhub_credentials (
	user_id       TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE TABLE IF NOT EXISTS _permhub_refresh_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`
}

func (d *SQLiteDialect) UpsertRecordSQL() string {
	return `INSERT INTO _permhub_store (key, data, updated_at) VALUES (?1, ?2, datetime('now'))
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = datetime('now')`
}
