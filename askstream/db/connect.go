// Package db opens the local turn database and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"

	"github.com/ZanzyTHEbar/askstream/askstream/config"
)

const (
	DriverLibSQL = "libsql"
	DriverSQLite = "sqlite"
)

// Open connects to the database described by cfg, creating the file and
// its directory when missing, and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	dsn, err := driverDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("driver", cfg.Driver).Str("dsn", dsn).Msg("Connecting to turn database")

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	// SQLite allows a single writer; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func driverDSN(cfg config.DatabaseConfig) (string, error) {
	switch cfg.Driver {
	case DriverLibSQL:
		return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", cfg.DSN), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DSN), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}
