// Package db opens the embedded SQL database used for cache snapshots.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

const (
	// DriverLibSQL is the cgo libsql driver.
	DriverLibSQL = "libsql"
	// DriverSQLite is the pure-Go sqlite driver.
	DriverSQLite = "sqlite"
)

// Config holds the embedded database location and driver.
type Config struct {
	Driver       string
	DatabasePath string
}

// Connect opens the database at cfg.DatabasePath, creating parent
// directories and the file when missing, and verifies connectivity.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*sql.DB, error) {
	logger = logger.With().Str("component", "db").Str("driver", cfg.Driver).Logger()

	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(cfg.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(cfg.DatabasePath); os.IsNotExist(err) {
		logger.Info().Str("path", cfg.DatabasePath).Msg("Database not found, creating a new one")
		file, err := os.Create(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("could not create db at path %s: %w", cfg.DatabasePath, err)
		}
		file.Close()
	}

	dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("dsn", dsn).Msg("Connecting to embedded database")

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Driver, err)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func dsnFor(cfg Config) (string, error) {
	switch cfg.Driver {
	case DriverLibSQL:
		return fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL", cfg.DatabasePath), nil
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", cfg.DatabasePath), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// verify runs a trivial query to make sure the connection works.
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
