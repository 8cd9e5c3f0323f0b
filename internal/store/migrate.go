package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"

	"github.com/ledgerwatch/namedb/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one named, idempotent schema step. Migrations apply
// sequentially in name order; applying one already recorded as applied
// is a no-op. Naming convention: "0001_init.sql" and so on, so sort
// order is also apply order.
type Migration struct {
	Name string
	SQL  string
}

// Migrator applies the embedded migration set against an open database,
// skipping migrations already recorded in schema_migrations. The skip
// discipline mirrors the teacher's own migration-applied bookkeeping:
// idempotency is expected, not merely hoped for.
type Migrator struct {
	Migrations []Migration
	log        logger.Logger
}

// NewMigrator loads every embedded *.sql file into apply order.
func NewMigrator(log logger.Logger) (*Migrator, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("store: read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	migs := make([]Migration, 0, len(names))
	for _, name := range names {
		b, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("store: read migration %s: %w", name, err)
		}
		migs = append(migs, Migration{Name: name, SQL: string(b)})
	}
	return &Migrator{Migrations: migs, log: log}, nil
}

// Apply runs every migration not yet recorded as applied, each in its
// own transaction, recording it as applied on success.
func (m *Migrator) Apply(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.Query(`SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("store: read schema_migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan schema_migrations: %w", err)
		}
		applied[name] = true
	}
	rows.Close()

	for _, mig := range m.Migrations {
		if applied[mig.Name] {
			continue
		}
		if m.log != nil {
			m.log.Info("applying migration", "name", mig.Name)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %s: %w", mig.Name, err)
		}
		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %s: %w", mig.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(name) VALUES (?)`, mig.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %s: %w", mig.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %s: %w", mig.Name, err)
		}
		if m.log != nil {
			m.log.Info("applied migration", "name", mig.Name)
		}
	}
	return nil
}
