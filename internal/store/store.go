package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	_ "modernc.org/sqlite"             // Register sqlite as database/sql driver

	"permhub/internal/config"
)

var ErrNotFound = errors.New("not found")

// Store wraps the database connection and dialect. It is the durable layer
// behind the permission record and the auth tables; the in-memory matrix is
// authoritative between saves.
type Store struct {
	DB      *sql.DB
	Dialect Dialect
	driver  string
}

// New creates a Store from config.
func New(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	dialect := NewDialect(driver)

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "postgres" {
		if cfg.PoolSize > 0 {
			db.SetMaxOpenConns(cfg.PoolSize)
		}
	} else if driver == "sqlite" {
		// SQLite: single writer, WAL mode for concurrent reads
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{DB: db, Dialect: dialect, driver: driver}, nil
}

// Bootstrap creates the system tables if they do not exist. Statements run
// one at a time; pgx's prepared path rejects multi-statement strings.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range strings.Split(s.Dialect.SystemTablesSQL(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create system tables: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() {
	s.DB.Close()
}

// LoadRecord reads the durable record stored under key. A missing record
// returns (nil, nil); callers treat that as a fresh start.
func (s *Store) LoadRecord(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM _permhub_store WHERE key = %s", s.Dialect.Placeholder(1)),
		key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", key, err)
	}
	return data, nil
}

// SaveRecord upserts the durable record under key.
func (s *Store) SaveRecord(ctx context.Context, key string, data []byte) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.UpsertRecordSQL(), key, data); err != nil {
		return fmt.Errorf("save record %s: %w", key, err)
	}
	return nil
}
