// Package resolver turns a batch compute function into a cached, de-duplicated
// one: cached items are answered from a cache.Store, uncached items are sent
// to the compute function in a single call, and items already being computed
// by another caller are awaited instead of recomputed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/trace"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// KeyFunc derives the cache key of a request.
type KeyFunc[Req any] func(Req) string

// ComputeFunc computes results for reqs, returning exactly one result per
// request in the same order.
type ComputeFunc[Req, Res any] func(ctx context.Context, reqs []Req) ([]Res, error)

// Option configures a Resolver.
type Option func(*options)

type options struct {
	name   string
	logger zerolog.Logger
	tracer trace.Tracer
}

// WithName sets the name used in logs, spans and errors.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the tracer used around compute calls.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Stats counts resolver activity since creation.
type Stats struct {
	Batches      uint64
	ComputeCalls uint64
	Computed     uint64
	Hits         uint64
	Shared       uint64
	Failures     uint64
}

type flight[Res any] struct {
	done  chan struct{}
	value Res
	err   error
}

// pending groups every position of one key within a single batch.
type pending[Res any] struct {
	key       string
	positions []int
	flight    *flight[Res]
}

// Resolver memoizes a batch compute function.
type Resolver[Req, Res any] struct {
	name     string
	store    *cache.Store[Res]
	key      KeyFunc[Req]
	compute  ComputeFunc[Req, Res]
	logger   zerolog.Logger
	tracer   trace.Tracer
	mu       sync.Mutex
	inflight map[string]*flight[Res]

	batches      atomic.Uint64
	computeCalls atomic.Uint64
	computed     atomic.Uint64
	hits         atomic.Uint64
	shared       atomic.Uint64
	failures     atomic.Uint64
}

// New creates a resolver backed by store.
func New[Req, Res any](store *cache.Store[Res], key KeyFunc[Req], compute ComputeFunc[Req, Res], opts ...Option) *Resolver[Req, Res] {
	o := options{name: "resolver", logger: zerolog.Nop(), tracer: trace.Noop{}}
	for _, opt := range opts {
		opt(&o)
	}

	return &Resolver[Req, Res]{
		name:     o.name,
		store:    store,
		key:      key,
		compute:  compute,
		logger:   o.logger.With().Str("component", "resolver").Str("resolver", o.name).Logger(),
		tracer:   o.tracer,
		inflight: make(map[string]*flight[Res]),
	}
}

// Store returns the backing cache.
func (r *Resolver[Req, Res]) Store() *cache.Store[Res] {
	return r.store
}

// Resolve resolves a single request through the batch path.
func (r *Resolver[Req, Res]) Resolve(ctx context.Context, req Req) (Res, error) {
	res, err := r.ResolveBatch(ctx, []Req{req})
	if err != nil {
		var zero Res
		return zero, err
	}
	return res[0], nil
}

// ResolveAsync is the future-returning form of Resolve.
func (r *Resolver[Req, Res]) ResolveAsync(ctx context.Context, req Req) *offload.Future[Res] {
	return offload.Go(ctx, func(ctx context.Context) (Res, error) {
		return r.Resolve(ctx, req)
	})
}

// ResolveBatchAsync is the future-returning form of ResolveBatch.
func (r *Resolver[Req, Res]) ResolveBatchAsync(ctx context.Context, reqs []Req) *offload.Future[[]Res] {
	return offload.Go(ctx, func(ctx context.Context) ([]Res, error) {
		return r.ResolveBatch(ctx, reqs)
	})
}

// ResolveBatch returns one result per request, in request order.
//
// Cached requests are answered from the store. The remaining requests are
// sent to the compute function in one call, in their original relative
// order, with duplicate keys collapsed to their first occurrence. Requests
// whose key is already being computed by a concurrent call wait for that
// result. Nothing is cached when compute fails or returns the wrong number
// of results.
func (r *Resolver[Req, Res]) ResolveBatch(ctx context.Context, reqs []Req) ([]Res, error) {
	if len(reqs) == 0 {
		return []Res{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.batches.Add(1)

	results := make([]Res, len(reqs))
	owned, waiting, hits := r.partition(reqs, results)
	r.hits.Add(uint64(hits))

	r.logger.Debug().
		Int("batch", len(reqs)).
		Int("hits", hits).
		Int("misses", len(owned)).
		Int("waiting", len(waiting)).
		Msg("Partitioned batch")

	if len(owned) > 0 {
		misses := make([]Req, len(owned))
		for j, p := range owned {
			misses[j] = reqs[p.positions[0]]
		}

		computed, err := r.runCompute(ctx, misses)
		r.complete(owned, computed, err)
		if err != nil {
			return nil, err
		}

		for j, p := range owned {
			for _, i := range p.positions {
				results[i] = computed[j]
			}
		}
	}

	var retry []int
	for _, p := range waiting {
		select {
		case <-p.flight.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err := p.flight.err; err != nil {
			// The owner gave up, but this caller still wants the value.
			if isContextErr(err) && ctx.Err() == nil {
				retry = append(retry, p.positions...)
				continue
			}
			return nil, err
		}

		r.shared.Add(uint64(len(p.positions)))
		for _, i := range p.positions {
			results[i] = p.flight.value
		}
	}

	if len(retry) > 0 {
		sub := make([]Req, len(retry))
		for j, i := range retry {
			sub[j] = reqs[i]
		}
		vals, err := r.ResolveBatch(ctx, sub)
		if err != nil {
			return nil, err
		}
		for j, i := range retry {
			results[i] = vals[j]
		}
	}

	return results, nil
}

// partition fills cached results and registers flights for the misses this
// call owns. It runs under r.mu so that ownership of a whole batch is taken
// atomically.
func (r *Resolver[Req, Res]) partition(reqs []Req, results []Res) (owned, waiting []*pending[Res], hits int) {
	byKey := make(map[string]*pending[Res])

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, req := range reqs {
		k := r.key(req)

		if p, ok := byKey[k]; ok {
			p.positions = append(p.positions, i)
			continue
		}

		if v, ok := r.store.Get(k); ok {
			results[i] = v
			hits++
			continue
		}

		if f, ok := r.inflight[k]; ok {
			p := &pending[Res]{key: k, positions: []int{i}, flight: f}
			byKey[k] = p
			waiting = append(waiting, p)
			continue
		}

		f := &flight[Res]{done: make(chan struct{})}
		r.inflight[k] = f
		p := &pending[Res]{key: k, positions: []int{i}, flight: f}
		byKey[k] = p
		owned = append(owned, p)
	}

	return owned, waiting, hits
}

// runCompute invokes the compute function once and validates its output.
func (r *Resolver[Req, Res]) runCompute(ctx context.Context, reqs []Req) (out []Res, err error) {
	ctx, finish := r.tracer.StartSpan(ctx, r.name+".compute", map[string]any{"batch": len(reqs)})
	defer func() { finish(err) }()

	r.computeCalls.Add(1)
	start := time.Now()

	var pc panics.Catcher
	pc.Try(func() {
		out, err = r.compute(ctx, reqs)
	})
	if rec := pc.Recovered(); rec != nil {
		out, err = nil, rec.AsError()
	}

	if err != nil {
		r.failures.Add(1)
		r.logger.Debug().Err(err).Int("batch", len(reqs)).Msg("Compute failed")
		return nil, &ComputeError{Name: r.name, Batch: len(reqs), Err: err}
	}
	if len(out) != len(reqs) {
		r.failures.Add(1)
		r.logger.Error().Int("want", len(reqs)).Int("got", len(out)).Msg("Compute returned wrong number of results")
		return nil, &LengthMismatchError{Want: len(reqs), Got: len(out)}
	}

	r.computed.Add(uint64(len(reqs)))
	r.logger.Debug().
		Int("batch", len(reqs)).
		Dur("duration", time.Since(start)).
		Msg("Compute finished")
	return out, nil
}

// complete stores successful results, resolves every owned flight and
// removes it from the in-flight table.
func (r *Resolver[Req, Res]) complete(owned []*pending[Res], computed []Res, err error) {
	r.mu.Lock()
	for j, p := range owned {
		if err == nil {
			r.store.Put(p.key, computed[j])
			p.flight.value = computed[j]
		} else {
			p.flight.err = err
		}
		delete(r.inflight, p.key)
	}
	r.mu.Unlock()

	for _, p := range owned {
		close(p.flight.done)
	}
}

// InFlight returns how many keys are currently being computed.
func (r *Resolver[Req, Res]) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Stats returns resolver counters.
func (r *Resolver[Req, Res]) Stats() Stats {
	return Stats{
		Batches:      r.batches.Load(),
		ComputeCalls: r.computeCalls.Load(),
		Computed:     r.computed.Load(),
		Hits:         r.hits.Load(),
		Shared:       r.shared.Load(),
		Failures:     r.failures.Load(),
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// String implements fmt.Stringer for log fields.
func (s Stats) String() string {
	return fmt.Sprintf("batches=%d compute_calls=%d computed=%d hits=%d shared=%d failures=%d",
		s.Batches, s.ComputeCalls, s.Computed, s.Hits, s.Shared, s.Failures)
}
