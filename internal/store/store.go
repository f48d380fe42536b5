package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

//go:embed schema_postgres.sql
var schemaPostgresSQL string

// Schema version tracking (SQLite only). Version 1 is schema.sql as it
// stands; each later version appends one step to migrations.
const baseSchemaVersion = 1

// migrations[i] upgrades a database from baseSchemaVersion+i to the next
// version.
var migrations []func(*sql.DB) error

func currentSchemaVersion() int {
	return baseSchemaVersion + len(migrations)
}

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvariant is returned when a statement affected a different number
	// of rows than the operation requires. It always aborts the unit of work.
	ErrInvariant = errors.New("store invariant violated")
)

// Store provides durable storage for the disbursement engine.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open creates or opens a database.
//
// A DSN starting with postgres:// or postgresql:// opens PostgreSQL through
// pgx. Anything else is treated as a SQLite path (":memory:" included), opened
// with:
//   - IMMEDIATE transactions so a unit of work takes the writer lock at BEGIN
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// The schema is applied on every open and is idempotent.
func Open(dsn string) (*Store, error) {
	dialect := dialectFor(dsn)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = sql.Open("pgx", dsn)
	default:
		db, err = sql.Open("sqlite3", sqliteDSN(dsn))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == SQLite {
		// SQLite only supports one writer at a time. A single connection also
		// keeps an in-memory database alive for the life of the Store.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := applySchema(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, dialect: dialect}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports which database the store is connected to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// QueryContext runs a read query outside any unit of work. Placeholders are
// written as ? and rebound for the dialect. Callers close the rows.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate"
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB, dialect Dialect) error {
	schema := schemaSQL
	if dialect == Postgres {
		schema = schemaPostgresSQL
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if dialect == SQLite {
		if err := runMigrations(db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
// A fresh database (version 0) already has the current schema.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	current := currentSchemaVersion()
	if version == 0 {
		version = current
	}
	if version > current {
		return fmt.Errorf("schema version %d is newer than supported version %d", version, current)
	}

	for v := version; v < current; v++ {
		if err := migrations[v-baseSchemaVersion](db); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", current)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
