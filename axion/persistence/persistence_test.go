package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/axion/axion/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	_ "modernc.org/sqlite"
)

func records(pairs ...string) []Record {
	out := make([]Record, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		v, _ := json.Marshal(pairs[i+1])
		out = append(out, Record{Key: pairs[i], Value: v})
	}
	return out
}

// SnapshotStoreSuite runs the same contract against every SnapshotStore.
type SnapshotStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) SnapshotStore
}

func (s *SnapshotStoreSuite) TestMissingSnapshotIsEmpty() {
	store := s.newStore(s.T())
	recs, err := store.Load(context.Background(), "nothing")
	s.Require().NoError(err)
	s.Empty(recs)
}

func (s *SnapshotStoreSuite) TestSaveLoadPreservesOrder() {
	store := s.newStore(s.T())
	ctx := context.Background()
	want := records("a", "1", "b", "", "c", "3")

	s.Require().NoError(store.Save(ctx, "generation", want))
	got, err := store.Load(ctx, "generation")
	s.Require().NoError(err)

	s.Require().Len(got, 3)
	for i := range want {
		s.Equal(want[i].Key, got[i].Key)
		s.JSONEq(string(want[i].Value), string(got[i].Value))
	}
}

func (s *SnapshotStoreSuite) TestSaveReplaces() {
	store := s.newStore(s.T())
	ctx := context.Background()

	s.Require().NoError(store.Save(ctx, "x", records("a", "1", "b", "2")))
	s.Require().NoError(store.Save(ctx, "x", records("c", "3")))

	got, err := store.Load(ctx, "x")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("c", got[0].Key)
}

func (s *SnapshotStoreSuite) TestSnapshotsAreIsolatedByName() {
	store := s.newStore(s.T())
	ctx := context.Background()

	s.Require().NoError(store.Save(ctx, "one", records("a", "1")))
	s.Require().NoError(store.Save(ctx, "two", records("b", "2")))

	got, err := store.Load(ctx, "one")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("a", got[0].Key)
}

func TestFileStoreCompressed(t *testing.T) {
	suite.Run(t, &SnapshotStoreSuite{newStore: func(t *testing.T) SnapshotStore {
		fs, err := NewFileStore(t.TempDir(), FileOptions{Compress: true, Atomic: true})
		require.NoError(t, err)
		t.Cleanup(func() { fs.Close() })
		return fs
	}})
}

func TestFileStorePlain(t *testing.T) {
	suite.Run(t, &SnapshotStoreSuite{newStore: func(t *testing.T) SnapshotStore {
		fs, err := NewFileStore(t.TempDir(), FileOptions{})
		require.NoError(t, err)
		t.Cleanup(func() { fs.Close() })
		return fs
	}})
}

func TestSQLStore(t *testing.T) {
	suite.Run(t, &SnapshotStoreSuite{newStore: func(t *testing.T) SnapshotStore {
		db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "snapshots.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		store, err := NewSQLStore(context.Background(), db, zerolog.Nop())
		require.NoError(t, err)
		return store
	}})
}

// TestFileStoreReadsEitherFormat tests that toggling compression keeps old snapshots readable.
func TestFileStoreReadsEitherFormat(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	plain, err := NewFileStore(dir, FileOptions{})
	require.NoError(t, err)
	require.NoError(t, plain.Save(ctx, "x", records("a", "1")))

	compressed, err := NewFileStore(dir, FileOptions{Compress: true, CompressionLevel: 3})
	require.NoError(t, err)
	got, err := compressed.Load(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, compressed.Save(ctx, "x", records("b", "2")))
	got, err = plain.Load(ctx, "x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Key)
}

// TestFileStoreCorruptSnapshot tests that garbage is reported, not panicked on.
func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, FileOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.Path("x"), []byte("{not json"), 0o644))

	_, err = fs.Load(context.Background(), "x")
	assert.Error(t, err)
}

// TestFileStoreAtomicLeavesNoTempFiles tests that atomic writes clean up after themselves.
func TestFileStoreAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, FileOptions{Atomic: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, fs.Save(context.Background(), "x", records("a", "1")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.snapshot", entries[0].Name())
}

// memoryStore is an in-memory SnapshotStore with optional failure injection.
type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]Record
	saves   int
	saveErr error
	loadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]Record)}
}

func (m *memoryStore) Load(ctx context.Context, name string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]Record(nil), m.data[name]...), nil
}

func (m *memoryStore) Save(ctx context.Context, name string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data[name] = append([]Record(nil), recs...)
	return nil
}

func (m *memoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// TestPersisterFlushAndRestore tests a snapshot round trip into a fresh store.
func TestPersisterFlushAndRestore(t *testing.T) {
	snapshots := newMemoryStore()
	ctx := context.Background()

	src := cache.NewStore[[]float32](10, 0)
	p := NewPersister("embedding", src, snapshots, FlushPolicy{}, zerolog.Nop())
	src.Put("a", []float32{1, 2})
	src.Put("b", []float32{})
	src.Get("a")
	require.NoError(t, p.Flush(ctx))

	dst := cache.NewStore[[]float32](10, 0)
	restored := NewPersister("embedding", dst, snapshots, FlushPolicy{}, zerolog.Nop())
	assert.Equal(t, 2, restored.Restore(ctx))

	assert.Equal(t, src.Keys(), dst.Keys())
	v, ok := dst.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, v)
	v, ok = dst.Get("b")
	require.True(t, ok)
	assert.Empty(t, v)
	assert.False(t, restored.Stats().Dirty)
}

// TestPersisterRestoreKeepsMostRecent tests trimming to capacity on load.
func TestPersisterRestoreKeepsMostRecent(t *testing.T) {
	snapshots := newMemoryStore()
	snapshots.data["gen"] = records("old", "1", "mid", "2", "new", "3")

	store := cache.NewStore[string](2, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{}, zerolog.Nop())

	assert.Equal(t, 2, p.Restore(context.Background()))
	assert.Equal(t, []string{"new", "mid"}, store.Keys())
}

// TestPersisterRestoreFailureIsNotFatal tests that a broken snapshot leaves an empty cache.
func TestPersisterRestoreFailureIsNotFatal(t *testing.T) {
	snapshots := newMemoryStore()
	snapshots.loadErr = errors.New("disk on fire")

	store := cache.NewStore[string](4, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{}, zerolog.Nop())

	assert.Equal(t, 0, p.Restore(context.Background()))
	assert.Equal(t, 0, store.Len())
}

// TestPersisterRestoreSkipsUndecodableRecords tests per-record tolerance.
func TestPersisterRestoreSkipsUndecodableRecords(t *testing.T) {
	snapshots := newMemoryStore()
	snapshots.data["gen"] = []Record{
		{Key: "good", Value: json.RawMessage(`"ok"`)},
		{Key: "bad", Value: json.RawMessage(`{"not":"a string"}`)},
	}

	store := cache.NewStore[string](4, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{}, zerolog.Nop())

	assert.Equal(t, 1, p.Restore(context.Background()))
	_, ok := store.Peek("good")
	assert.True(t, ok)
}

// TestPersisterFlushEveryInserts tests the insert-count trigger.
func TestPersisterFlushEveryInserts(t *testing.T) {
	snapshots := newMemoryStore()
	store := cache.NewStore[string](10, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{EveryInserts: 2}, zerolog.Nop())
	p.Start()
	defer p.Close(context.Background())

	store.Put("a", "1")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, snapshots.Saves())

	store.Put("b", "2")
	require.Eventually(t, func() bool { return snapshots.Saves() == 1 }, time.Second, 5*time.Millisecond)
}

// TestPersisterFlushInterval tests the periodic trigger and that clean caches are skipped.
func TestPersisterFlushInterval(t *testing.T) {
	snapshots := newMemoryStore()
	store := cache.NewStore[string](10, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{Interval: 10 * time.Millisecond}, zerolog.Nop())
	p.Start()
	defer p.Close(context.Background())

	store.Put("a", "1")
	require.Eventually(t, func() bool { return snapshots.Saves() >= 1 }, time.Second, 5*time.Millisecond)

	saves := snapshots.Saves()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, saves, snapshots.Saves(), "unchanged cache should not be rewritten")
}

// TestPersisterCloseFlushes tests the final flush on shutdown.
func TestPersisterCloseFlushes(t *testing.T) {
	snapshots := newMemoryStore()
	store := cache.NewStore[string](10, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{EveryInserts: 100}, zerolog.Nop())
	p.Start()

	store.Put("a", "1")
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, snapshots.Saves())
	require.Len(t, snapshots.data["gen"], 1)

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, snapshots.Saves())
}

// TestPersisterFlushError tests that save failures surface as PersistenceError.
func TestPersisterFlushError(t *testing.T) {
	snapshots := newMemoryStore()
	snapshots.saveErr = errors.New("read-only filesystem")

	store := cache.NewStore[string](10, 0)
	p := NewPersister("gen", store, snapshots, FlushPolicy{}, zerolog.Nop())
	store.Put("a", "1")

	err := p.Flush(context.Background())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
	assert.Equal(t, uint64(1), p.Stats().FlushFailures)
	assert.True(t, p.Stats().Dirty)

	// The cache itself keeps working.
	v, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

// TestPersisterWithFileStore tests the full path through a compressed file.
func TestPersisterWithFileStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fs, err := NewFileStore(dir, FileOptions{Compress: true, Atomic: true})
	require.NoError(t, err)
	defer fs.Close()

	src := cache.NewStore[string](4, time.Hour)
	p := NewPersister("generation", src, fs, FlushPolicy{}, zerolog.Nop())
	src.Put("prompt-1", "completion-1")
	require.NoError(t, p.Close(ctx))

	dst := cache.NewStore[string](4, time.Hour)
	assert.Equal(t, 1, NewPersister("generation", dst, fs, FlushPolicy{}, zerolog.Nop()).Restore(ctx))
	v, ok := dst.Get("prompt-1")
	require.True(t, ok)
	assert.Equal(t, "completion-1", v)
}
