// Package registry keeps at most one live instance of each expensive
// resource (model handles, caches) and builds them lazily on first use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// ErrTypeMismatch is returned when a resource is requested with a different
// type than it was registered with.
var ErrTypeMismatch = errors.New("resource type mismatch")

// InitError wraps a failed resource construction. Nothing is retained, so a
// later call retries the build.
type InitError struct {
	Name string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize resource %q: %v", e.Name, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Registry maps resource names to their single live instance.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]any
	order     []string
	group     singleflight.Group
	logger    zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		resources: make(map[string]any),
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreate returns the instance registered under name, building it with
// build on first use. Concurrent first callers share one build.
func GetOrCreate[T any](ctx context.Context, r *Registry, name string, build func(context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := r.lookup(name); ok {
		return cast[T](name, v)
	}

	v, err, shared := r.group.Do(name, func() (any, error) {
		// A build may have completed between lookup and Do.
		if v, ok := r.lookup(name); ok {
			return v, nil
		}

		start := time.Now()
		res, err := build(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("resource", name).Msg("Resource initialization failed")
			return nil, &InitError{Name: name, Err: err}
		}

		r.mu.Lock()
		r.resources[name] = res
		r.order = append(r.order, name)
		r.mu.Unlock()

		r.logger.Info().
			Str("resource", name).
			Dur("duration", time.Since(start)).
			Msg("Resource initialized")
		return res, nil
	})
	if err != nil {
		return zero, err
	}
	if shared {
		r.logger.Debug().Str("resource", name).Msg("Shared in-flight initialization")
	}
	return cast[T](name, v)
}

// Lookup returns an already built resource without building it.
func Lookup[T any](r *Registry, name string) (T, bool) {
	var zero T
	v, ok := r.lookup(name)
	if !ok {
		return zero, false
	}
	t, err := cast[T](name, v)
	if err != nil {
		return zero, false
	}
	return t, true
}

func cast[T any](name string, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %q holds %T, requested %T", ErrTypeMismatch, name, v, zero)
	}
	return t, nil
}

func (r *Registry) lookup(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.resources[name]
	return v, ok
}

// Has reports whether name has been built.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns the built resource names in creation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Warmup runs the given initializers concurrently and returns the first error.
func (r *Registry) Warmup(ctx context.Context, inits ...func(context.Context) error) error {
	p := pool.New().WithContext(ctx).WithFirstError()
	for _, fn := range inits {
		p.Go(fn)
	}
	return p.Wait()
}

// Close closes every resource implementing io.Closer in reverse creation
// order and forgets all resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	order := r.order
	resources := r.resources
	r.order = nil
	r.resources = make(map[string]any)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		c, ok := resources[name].(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
