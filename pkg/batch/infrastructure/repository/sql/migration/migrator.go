// Package migration creates the job repository tables with golang-migrate from
// SQL files embedded per database type.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/logger"
)

// MigrationsTable tracks the applied job repository migrations.
const MigrationsTable = "batch_framework_migrations"

//go:embed resource
var resourceFS embed.FS

// Migrator applies the job repository migrations to one database.
type Migrator struct {
	db     *sql.DB
	dbType string
}

// NewMigrator creates a Migrator for db. dbType is "mysql", "postgres" or "sqlite".
// MySQL connections must allow multiple statements per query.
func NewMigrator(db *sql.DB, dbType string) *Migrator {
	return &Migrator{db: db, dbType: normalizeType(dbType)}
}

func normalizeType(dbType string) string {
	switch dbType {
	case "sqlite3":
		return "sqlite"
	case "postgresql", "redshift":
		return "postgres"
	default:
		return dbType
	}
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up")
}

// Down drops the job repository tables.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down")
}

// Version returns the applied migration version. ok is false before the first migration.
func (m *Migrator) Version() (version uint, dirty bool, ok bool, err error) {
	instance, source, err := m.instance()
	if err != nil {
		return 0, false, false, err
	}
	defer source.Close()

	version, dirty, err = instance.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, err
	}
	return version, dirty, true, nil
}

func (m *Migrator) databaseDriver() (database.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(m.db, &postgres.Config{MigrationsTable: MigrationsTable})
	case "mysql":
		return mysql.WithInstance(m.db, &mysql.Config{MigrationsTable: MigrationsTable})
	case "sqlite":
		return sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: MigrationsTable})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// instance returns a migrate instance and its source driver. The instance itself is
// never closed: closing it would close the shared *sql.DB.
func (m *Migrator) instance() (*migrate.Migrate, interface{ Close() error }, error) {
	sub, err := fs.Sub(resourceFS, "resource/"+m.dbType)
	if err != nil {
		return nil, nil, fmt.Errorf("no migrations for database type %s: %w", m.dbType, err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for %s: %w", m.dbType, err)
	}
	driver, err := m.databaseDriver()
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", source, m.dbType, driver)
	if err != nil {
		source.Close()
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return instance, source, nil
}

func (m *Migrator) run(ctx context.Context, command string) error {
	logger.Infof("Executing migration '%s' (DB: %s, Table: %s)", command, m.dbType, MigrationsTable)

	instance, source, err := m.instance()
	if err != nil {
		return err
	}
	defer source.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			instance.GracefulStop <- true
		case <-done:
		}
	}()

	switch command {
	case "up":
		err = instance.Up()
	case "down":
		err = instance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if version, dirty, versionErr := instance.Version(); versionErr == nil {
			logger.Errorf("Migration '%s' failed at version %d (dirty: %t).", command, version, dirty)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s): %w", command, m.dbType, err)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}
