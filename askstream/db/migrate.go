package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/config"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies all pending migrations for the given driver.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger zerolog.Logger) error {
	dialect, err := gooseDialect(driver)
	if err != nil {
		return err
	}

	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Dur("duration", r.Duration).
			Msg("Applied migration")
	}
	return nil
}

// OpenAndMigrate is Open followed by Migrate.
func OpenAndMigrate(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	db, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, cfg.Driver, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func gooseDialect(driver string) (goose.Dialect, error) {
	switch driver {
	case DriverLibSQL:
		return goose.DialectTurso, nil
	case DriverSQLite:
		return goose.DialectSQLite3, nil
	default:
		return "", fmt.Errorf("no migration dialect for driver %q", driver)
	}
}
