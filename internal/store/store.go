// Package store implements the schema and storage layer (component C1):
// creating/opening the database file, enforcing foreign keys, and
// reading rows with the revoked-flag and buckets-array coercions the
// rest of the module depends on.
package store

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgerwatch/namedb/internal/logger"
)

// Store wraps the single *sql.DB handle shared by the writer and all
// readers. SQLite's WAL mode lets readers on other connections (such as
// a separate serve process) observe the last committed snapshot while a
// block transaction is open. This handle is limited to one connection,
// so a read through it waits until an open block transaction commits or
// aborts.
type Store struct {
	DB  *sql.DB
	log logger.Logger
}

// Create makes a brand new database file at path and applies every
// migration. It fails if a file already exists at path.
func Create(path string, log logger.Logger) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("store: refusing to create: %s already exists", path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: stat %s: %w", path, err)
	}
	s, err := open(path, log)
	if err != nil {
		return nil, err
	}
	migrator, err := NewMigrator(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := migrator.Apply(s.DB); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens an existing database file at path. It does not create one.
func Open(path string, log logger.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s, err := open(path, log)
	if err != nil {
		return nil, err
	}
	migrator, err := NewMigrator(log)
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := migrator.Apply(s.DB); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func open(path string, log logger.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return &Store{DB: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// ErrRowCountMismatch is returned by a record operator when a write
// affected a number of rows other than what the operation declared it
// must affect.
type ErrRowCountMismatch struct {
	Table    string
	Expected int64
	Got      int64
}

func (e ErrRowCountMismatch) Error() string {
	return fmt.Sprintf("store: %s: expected %d affected row(s), got %d", e.Table, e.Expected, e.Got)
}

// ErrSchemaMismatch is returned when a record operator is given a
// payload whose keys don't exactly match a table's registered columns.
type ErrSchemaMismatch struct {
	Table   string
	Missing []string
	Extra   []string
}

func (e ErrSchemaMismatch) Error() string {
	return fmt.Sprintf("store: %s: schema mismatch (missing=%v extra=%v)", e.Table, e.Missing, e.Extra)
}
