package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside the Docker runtime image which does not copy the .sql file.
//
//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by lookups when no row exists for the key.
var ErrNotFound = errors.New("store: not found")

// ErrReportLimit is returned when a reporter already filed 3 reports
// against the same target.
var ErrReportLimit = errors.New("store: report limit reached for target")

// ErrDetailsTooLong is returned when report details exceed the 1000
// character cap.
var ErrDetailsTooLong = errors.New("store: report details exceed 1000 characters")

// TimeFormat is the canonical timestamp encoding for every durable column.
const TimeFormat = time.RFC3339

// Store wraps the single-file SQLite database. SQLite serialises writers
// internally; we additionally pin the pool to one connection so write
// transactions never contend with each other.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database under dataDir. The
// journal mode is TRUNCATE rather than WAL: WAL needs shared memory and
// is unsafe on network-attached volumes, which is where this file lives
// in production.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "trustscore.db")

	dsn := path + "?_journal_mode=TRUNCATE&_synchronous=FULL&_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Store] Opened %s (journal=TRUNCATE, fk=on)", path)
	return s, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("schema init: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Now returns the current UTC time encoded in the canonical format.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// ParseTime decodes a canonical timestamp column value.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}
