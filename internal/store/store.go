package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/ability/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// ErrIRVersion is returned by Open for a journal whose terms were encoded
// by a different IR version.
var ErrIRVersion = errors.New("journal IR version mismatch")

// migrations run in order; migrations[i] moves user_version from i to i+1.
var migrations = []func(*sql.Tx) error{
	// v1: trace lookups by request identifier.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_request
			ON messages(req_agent, req_id, seq)`)
		return err
	},
	// v2: journal metadata.
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`)
		return err
	},
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the SQLite journal of one or more agents. Several agents may
// share one file; every row names the agent that wrote it.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path, applying pragmas, schema and
// pending migrations. Opening an existing journal is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := checkIRVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	for v := version; v < len(migrations); v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if err := migrations[v](tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("set user_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	return nil
}

// checkIRVersion stamps a fresh journal with ir.IRVersion and rejects one
// stamped with another.
func checkIRVersion(db *sql.DB) error {
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('ir_version', ?)`, ir.IRVersion); err != nil {
		return fmt.Errorf("stamp ir_version: %w", err)
	}
	var got string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'ir_version'`).Scan(&got); err != nil {
		return fmt.Errorf("read ir_version: %w", err)
	}
	if got != ir.IRVersion {
		return fmt.Errorf("%w: journal has %s, runtime uses %s", ErrIRVersion, got, ir.IRVersion)
	}
	return nil
}

func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
