// Package migrations embeds the schema and applies it with golang-migrate.
// Both backends call Up before handing out a Stores, so an opened store is
// always at the current schema version.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// New builds a migrator for the given driver ("sqlite" or "postgres")
// over an already-open database handle.
func New(db *sql.DB, driver string) (*migrate.Migrate, error) {
	var (
		dbDrv database.Driver
		err   error
	)
	switch driver {
	case "sqlite":
		dbDrv, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	case "postgres":
		dbDrv, err = pgmigrate.WithInstance(db, &pgmigrate.Config{})
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDrv)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies all pending migrations. No pending migrations is not an error.
func Up(db *sql.DB, driver string) error {
	m, err := New(db, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
