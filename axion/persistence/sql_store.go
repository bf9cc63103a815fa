package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the snapshot schema migrations to db.
func Migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug().
			Str("migration", r.Source.Path).
			Dur("duration", r.Duration).
			Msg("Applied migration")
	}
	return nil
}

// SQLStore keeps snapshots in a SQLite-compatible database.
type SQLStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLStore migrates db and returns a store on top of it.
func NewSQLStore(ctx context.Context, db *sql.DB, logger zerolog.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger = logger.With().Str("component", "sql_snapshots").Logger()
	if err := Migrate(ctx, db, logger); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, logger: logger}, nil
}

// Load returns the records of the named snapshot ordered by position.
func (s *SQLStore) Load(ctx context.Context, name string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, value FROM cache_snapshot_entries WHERE snapshot = ? ORDER BY position ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var value []byte
		if err := rows.Scan(&rec.Key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		rec.Value = value
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	return records, nil
}

// Save replaces the named snapshot in a single transaction.
func (s *SQLStore) Save(ctx context.Context, name string, records []Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM cache_snapshot_entries WHERE snapshot = ?`, name); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cache_snapshot_entries (snapshot, position, cache_key, value, saved_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, rec := range records {
		if _, err = stmt.ExecContext(ctx, name, i, rec.Key, []byte(rec.Value), now); err != nil {
			return fmt.Errorf("failed to insert snapshot row %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	s.logger.Debug().Str("snapshot", name).Int("records", len(records)).Msg("Snapshot saved")
	return nil
}

var _ SnapshotStore = (*SQLStore)(nil)
