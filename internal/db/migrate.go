package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/serialscope/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema means a migration failed part way and needs fixing by hand.
var ErrDirtySchema = errors.New("session schema is dirty")

// MigrateUp brings the schema to the newest embedded migration. An up to
// date schema is not an error.
func (db *DB) MigrateUp() error {
	return db.migrate(func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(version uint) error {
	return db.migrate(func(m *migrate.Migrate) error { return m.Migrate(version) })
}

// SchemaVersion returns the applied migration, 0 for an empty database.
func (db *DB) SchemaVersion() (uint, error) {
	var version uint
	err := db.migrate(func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("%w at version %d", ErrDirtySchema, v)
		}
		version = v
		return nil
	})
	return version, err
}

// migrate runs fn against the embedded migrations. The migrate instance is
// deliberately left open since closing it closes the shared *sql.DB.
func (db *DB) migrate(fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }
