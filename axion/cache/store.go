// Package cache provides a bounded, recency-ordered key/value store with
// per-entry time-based expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a single cached value together with its insertion timestamp.
type Entry[V any] struct {
	Key        string
	Value      V
	InsertedAt time.Time
}

// Stats is a point-in-time view of the store counters.
type Stats struct {
	Size        int
	Capacity    int
	Hits        uint64
	Misses      uint64
	Inserts     uint64
	Evictions   uint64
	Expirations uint64
}

// HitRate returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now      func() time.Time
	onInsert func(total uint64)
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithInsertHook registers fn to run after every successful Put with the
// running insert count. fn is called with the store lock released.
func WithInsertHook(fn func(total uint64)) Option {
	return func(o *options) {
		o.onInsert = fn
	}
}

type item[V any] struct {
	entry   Entry[V]
	recency *list.Element // position in Store.recency, front = most recently used
	age     *list.Element // position in Store.age, front = oldest insertion
}

// Store is a bounded LRU cache with an optional TTL.
//
// A capacity <= 0 disables the store: every Get misses and Put is a no-op.
// A ttl of 0 disables expiry. An entry whose age exceeds ttl is never
// returned. Presence is tracked by membership, so zero values are valid hits.
type Store[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*item[V]
	recency  *list.List
	age      *list.List
	now      func() time.Time
	onInsert func(total uint64)

	hits        uint64
	misses      uint64
	inserts     uint64
	evictions   uint64
	expirations uint64
}

// NewStore creates a store holding at most capacity entries that expire ttl
// after insertion.
func NewStore[V any](capacity int, ttl time.Duration, opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if ttl < 0 {
		ttl = 0
	}

	return &Store[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*item[V]),
		recency:  list.New(),
		age:      list.New(),
		now:      o.now,
		onInsert: o.onInsert,
	}
}

// SetInsertHook replaces the hook registered with WithInsertHook.
func (s *Store[V]) SetInsertHook(fn func(total uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInsert = fn
}

// Enabled reports whether the store can hold anything at all.
func (s *Store[V]) Enabled() bool {
	return s.capacity > 0
}

// Capacity returns the configured maximum number of entries.
func (s *Store[V]) Capacity() int {
	return s.capacity
}

// TTL returns the configured expiry, 0 meaning entries never expire.
func (s *Store[V]) TTL() time.Duration {
	return s.ttl
}

// Get returns the value for key and promotes it to most recently used.
// Expired entries are swept before the lookup.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	if !s.Enabled() {
		return zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())

	it, ok := s.items[key]
	if !ok {
		s.misses++
		return zero, false
	}

	s.recency.MoveToFront(it.recency)
	s.hits++
	return it.entry.Value, true
}

// Peek returns the value for key without touching recency or counters.
func (s *Store[V]) Peek(key string) (V, bool) {
	var zero V
	if !s.Enabled() {
		return zero, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || s.expiredLocked(it, s.now()) {
		return zero, false
	}
	return it.entry.Value, true
}

// Put inserts or overwrites key. Overwriting refreshes the timestamp and
// counts as a use. Inserting a new key at capacity evicts the least recently
// used live entry first; expired entries are swept before that.
func (s *Store[V]) Put(key string, value V) {
	if !s.Enabled() {
		return
	}

	s.mu.Lock()
	s.putLocked(key, value, s.now())
	s.inserts++
	total := s.inserts
	hook := s.onInsert
	s.mu.Unlock()

	if hook != nil {
		hook(total)
	}
}

func (s *Store[V]) putLocked(key string, value V, now time.Time) {
	if it, ok := s.items[key]; ok {
		it.entry.Value = value
		it.entry.InsertedAt = now
		s.recency.MoveToFront(it.recency)
		s.age.MoveToBack(it.age)
		return
	}

	// Expired entries go before any live one is evicted.
	s.sweepLocked(now)
	for len(s.items) >= s.capacity {
		s.evictLocked()
	}

	it := &item[V]{entry: Entry[V]{Key: key, Value: value, InsertedAt: now}}
	it.recency = s.recency.PushFront(it)
	it.age = s.age.PushBack(it)
	s.items[key] = it
}

// Delete removes key if present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeLocked(it)
	return true
}

// Len returns the number of stored entries, including expired ones that
// have not been swept yet.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns the live keys ordered from most to least recently used.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys := make([]string, 0, len(s.items))
	for e := s.recency.Front(); e != nil; e = e.Next() {
		it := e.Value.(*item[V])
		if s.expiredLocked(it, now) {
			continue
		}
		keys = append(keys, it.entry.Key)
	}
	return keys
}

// Entries returns the live entries ordered from least to most recently used,
// which is the order Load expects.
func (s *Store[V]) Entries() []Entry[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := make([]Entry[V], 0, len(s.items))
	for e := s.recency.Back(); e != nil; e = e.Prev() {
		it := e.Value.(*item[V])
		if s.expiredLocked(it, now) {
			continue
		}
		entries = append(entries, it.entry)
	}
	return entries
}

// Load inserts entries in order with fresh timestamps, so the last entry
// ends up most recently used. When entries exceed capacity only the last
// capacity entries remain. Loaded entries do not count as inserts and the
// insert hook is not called.
func (s *Store[V]) Load(entries []Entry[V]) int {
	if !s.Enabled() || len(entries) == 0 {
		return 0
	}
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, e := range entries {
		s.putLocked(e.Key, e.Value, now)
	}
	return len(entries)
}

// Clear drops every entry. Counters are kept.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*item[V])
	s.recency.Init()
	s.age.Init()
}

// Stats returns the current counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Size:        len(s.items),
		Capacity:    s.capacity,
		Hits:        s.hits,
		Misses:      s.misses,
		Inserts:     s.inserts,
		Evictions:   s.evictions,
		Expirations: s.expirations,
	}
}

// sweepLocked drops expired entries starting from the oldest insertion and
// stops at the first live one, so the cost is bounded by what it removes.
func (s *Store[V]) sweepLocked(now time.Time) {
	if s.ttl == 0 {
		return
	}
	for e := s.age.Front(); e != nil; e = s.age.Front() {
		it := e.Value.(*item[V])
		if !s.expiredLocked(it, now) {
			return
		}
		s.removeLocked(it)
		s.expirations++
	}
}

func (s *Store[V]) expiredLocked(it *item[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(it.entry.InsertedAt) > s.ttl
}

func (s *Store[V]) evictLocked() {
	back := s.recency.Back()
	if back == nil {
		return
	}
	s.removeLocked(back.Value.(*item[V]))
	s.evictions++
}

func (s *Store[V]) removeLocked(it *item[V]) {
	s.recency.Remove(it.recency)
	s.age.Remove(it.age)
	delete(s.items, it.entry.Key)
}
