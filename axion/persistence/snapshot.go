// Package persistence saves cache contents as ordered snapshots and restores
// them on startup. Snapshot problems are never fatal: a missing or corrupt
// snapshot means starting with an empty cache.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one persisted cache entry. Records are ordered from least to
// most recently used.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SnapshotStore persists named snapshots.
type SnapshotStore interface {
	// Load returns the records of the named snapshot, or no records and no
	// error when the snapshot does not exist.
	Load(ctx context.Context, name string) ([]Record, error)
	// Save replaces the named snapshot.
	Save(ctx context.Context, name string, records []Record) error
}

// PersistenceError reports a failed snapshot load or save.
type PersistenceError struct {
	Op   string
	Name string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// document is the on-disk layout used by FileStore.
type document struct {
	Version int       `json:"version"`
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
	Records []Record  `json:"records"`
}

const documentVersion = 1
