package store

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applyMigrations migrates db forward to the latest embedded schema
// version, enforcing the schema_version bookkeeping row spec.md §4.4
// requires.
func applyMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return agentmodel.NewPersistenceError("open embedded migrations", err)
	}
	dbDriver, err := newSQLiteDriver(db)
	if err != nil {
		return agentmodel.NewPersistenceError("init schema_version", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return agentmodel.NewPersistenceError("build migrator", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return agentmodel.NewPersistenceError("apply migrations", err)
	}
	return nil
}
