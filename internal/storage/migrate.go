package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// schemaTable records the applied sales schema version.
const schemaTable = "sales_schema_migrations"

//go:embed migrations/*.sql
var schemaFiles embed.FS

// RunMigrations applies any pending sales schema migrations to the database
// at dbPath and logs the resulting version. migrate closes the connection it
// is given, so it gets one of its own.
func RunMigrations(dbPath string) error {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open %s for schema upgrade: %w", dbPath, err)
	}
	defer conn.Close()

	target, err := sqlite.WithInstance(conn, &sqlite.Config{MigrationsTable: schemaTable})
	if err != nil {
		return fmt.Errorf("prepare schema target: %w", err)
	}
	files, err := iofs.New(schemaFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded schema files: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", files, "sqlite", target)
	if err != nil {
		return fmt.Errorf("prepare schema upgrade: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("upgrade sales schema: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read sales schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("sales schema version %d is dirty", version)
	}
	slog.Debug("Sales schema ready", "path", dbPath, "version", version)
	return nil
}
