package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending up migration to the configured database.
// Running it against an up-to-date schema is a no-op.
func RunMigrations(cfg *config.Config) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	slog.Info("Migrations applied", "version", version, "dirty", dirty)
	return nil
}

// Rollback reverts the given number of migrations
func Rollback(cfg *config.Config, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Files lists the embedded migration file names in apply order
func Files() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "sql")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func newMigrate(cfg *config.Config) (*migrate.Migrate, error) {
	if cfg == nil {
		return nil, errors.New("failed to create migrate instance: nil config")
	}
	if cfg.Database.Host == "" || cfg.Database.DBName == "" {
		return nil, errors.New("failed to create migrate instance: database host and dbname are required")
	}

	source, err := iofs.New(migrationFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}
