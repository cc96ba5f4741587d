// Package migrations applies the embedded schema migrations at startup.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Run brings the schema up to date from the embedded migration files.
// With apply false it only reports the current version, recovering a dirty
// state either way so an interrupted deploy does not wedge the next one.
func Run(db *sql.DB, apply bool) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		if err := recoverDirty(m, version); err != nil {
			return err
		}
	}

	if !apply {
		slog.Info("Schema check only, not applying migrations", "version", version)
		return nil
	}

	switch err := m.Up(); {
	case err == nil:
		applied, _, verr := m.Version()
		if verr != nil {
			return fmt.Errorf("read migration version after apply: %w", verr)
		}
		slog.Info("Applied schema migrations", "from", version, "to", applied)
	case errors.Is(err, migrate.ErrNoChange):
		slog.Info("Schema already up to date", "version", version)
	default:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("bind migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("build migrator: %w", err)
	}
	return m, nil
}

// recoverDirty clears an interrupted migration by forcing the recorded
// version and letting Up re-run it. Every migration file uses IF NOT
// EXISTS, so re-running the partial step is harmless.
func recoverDirty(m *migrate.Migrate, version uint) error {
	slog.Warn("Schema is dirty from an interrupted migration", "version", version)
	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("recover dirty schema at version %d: %w", version, err)
	}
	slog.Info("Recovered dirty schema", "version", version)
	return nil
}
