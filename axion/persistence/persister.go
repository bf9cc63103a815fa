package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/axion/axion/cache"

	"github.com/rs/zerolog"
)

// FlushPolicy decides when a cache is written back to its snapshot store.
// Both triggers may be combined; with neither set the cache is only flushed
// explicitly and on Close. Anything inserted since the last flush is lost if
// the process dies.
type FlushPolicy struct {
	// EveryInserts flushes after every N successful insertions.
	EveryInserts int
	// Interval flushes periodically when the cache changed.
	Interval time.Duration
}

// Persister connects one cache.Store to a SnapshotStore.
type Persister[V any] struct {
	name      string
	store     *cache.Store[V]
	snapshots SnapshotStore
	policy    FlushPolicy
	logger    zerolog.Logger

	signal  chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	flushMu       sync.Mutex
	flushedAt     uint64
	inserts       atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
}

// NewPersister registers itself as the store's insert hook.
func NewPersister[V any](name string, store *cache.Store[V], snapshots SnapshotStore, policy FlushPolicy, logger zerolog.Logger) *Persister[V] {
	p := &Persister[V]{
		name:      name,
		store:     store,
		snapshots: snapshots,
		policy:    policy,
		logger:    logger.With().Str("component", "persister").Str("snapshot", name).Logger(),
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	store.SetInsertHook(p.notifyInsert)
	return p
}

// notifyInsert runs on the inserting goroutine and only signals the flush loop.
func (p *Persister[V]) notifyInsert(total uint64) {
	p.inserts.Store(total)
	n := p.policy.EveryInserts
	if n <= 0 || total%uint64(n) != 0 {
		return
	}
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Restore loads the snapshot into the store. Failures are logged and leave
// the store empty.
func (p *Persister[V]) Restore(ctx context.Context) int {
	records, err := p.snapshots.Load(ctx, p.name)
	if err != nil {
		p.logger.Warn().Err(&PersistenceError{Op: "load", Name: p.name, Err: err}).Msg("Ignoring unreadable snapshot")
		return 0
	}

	entries := make([]cache.Entry[V], 0, len(records))
	skipped := 0
	for _, rec := range records {
		var v V
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			skipped++
			continue
		}
		entries = append(entries, cache.Entry[V]{Key: rec.Key, Value: v})
	}

	loaded := p.store.Load(entries)
	p.flushMu.Lock()
	p.flushedAt = p.inserts.Load()
	p.flushMu.Unlock()

	p.logger.Info().
		Int("records", len(records)).
		Int("loaded", loaded).
		Int("skipped", skipped).
		Msg("Snapshot restored")
	return loaded
}

// Flush writes the current store contents to the snapshot store.
func (p *Persister[V]) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	return p.flushLocked(ctx)
}

func (p *Persister[V]) flushLocked(ctx context.Context) error {
	inserts := p.inserts.Load()
	entries := p.store.Entries()

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.Value)
		if err != nil {
			p.flushFailures.Add(1)
			return &PersistenceError{Op: "encode", Name: p.name, Err: err}
		}
		records = append(records, Record{Key: e.Key, Value: data})
	}

	start := time.Now()
	if err := p.snapshots.Save(ctx, p.name, records); err != nil {
		p.flushFailures.Add(1)
		return &PersistenceError{Op: "save", Name: p.name, Err: err}
	}

	p.flushedAt = inserts
	p.flushes.Add(1)
	p.logger.Debug().
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Snapshot flushed")
	return nil
}

// flushIfDirty flushes only when something was inserted since the last flush.
// Errors are logged and swallowed.
func (p *Persister[V]) flushIfDirty(ctx context.Context, reason string) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	if p.inserts.Load() == p.flushedAt {
		return
	}
	if err := p.flushLocked(ctx); err != nil {
		p.logger.Warn().Err(err).Str("reason", reason).Msg("Snapshot flush failed")
	}
}

// Start launches the background flush loop. It is a no-op when the policy
// has no automatic trigger or the loop already runs.
func (p *Persister[V]) Start() {
	if p.policy.EveryInserts <= 0 && p.policy.Interval <= 0 {
		return
	}
	if p.closed.Load() || p.started.Swap(true) {
		return
	}

	p.wg.Add(1)
	go p.loop()
}

func (p *Persister[V]) loop() {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.policy.Interval > 0 {
		ticker := time.NewTicker(p.policy.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	ctx := context.Background()
	for {
		select {
		case <-p.stop:
			return
		case <-p.signal:
			p.flushIfDirty(ctx, "inserts")
		case <-tick:
			p.flushIfDirty(ctx, "interval")
		}
	}
}

// Close stops the flush loop and writes a final snapshot if anything changed.
func (p *Persister[V]) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.stop)
	p.wg.Wait()
	p.store.SetInsertHook(nil)

	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	if p.inserts.Load() == p.flushedAt {
		return nil
	}
	return p.flushLocked(ctx)
}

// PersisterStats reports flush activity.
type PersisterStats struct {
	Flushes       uint64
	FlushFailures uint64
	Dirty         bool
}

// Stats returns flush counters.
func (p *Persister[V]) Stats() PersisterStats {
	p.flushMu.Lock()
	dirty := p.inserts.Load() != p.flushedAt
	p.flushMu.Unlock()

	return PersisterStats{
		Flushes:       p.flushes.Load(),
		FlushFailures: p.flushFailures.Load(),
		Dirty:         dirty,
	}
}
