package storage

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	buserrors "github.com/R3E-Network/eventbus/infrastructure/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// applyMigrations runs every embedded migration in order against db. It is
// safe to call on every process start; golang-migrate tracks the applied
// version in its own schema_migrations table and is a no-op once current.
func applyMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeStorage, "load embedded migrations", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeStorage, "create postgres migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return buserrors.Wrap(buserrors.ErrCodeStorage, "build migrator", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return buserrors.Wrap(buserrors.ErrCodeStorage, "apply migrations", err)
	}
	return nil
}
