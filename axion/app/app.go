// Package app is the explicit dependency container: it owns the one
// resource registry of the process and builds every service from Config on
// first use.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/axion/axion/agents"
	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/config"
	"github.com/ZanzyTHEbar/axion/axion/db"
	"github.com/ZanzyTHEbar/axion/axion/embedding"
	"github.com/ZanzyTHEbar/axion/axion/generation"
	"github.com/ZanzyTHEbar/axion/axion/memory"
	"github.com/ZanzyTHEbar/axion/axion/models"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/persistence"
	"github.com/ZanzyTHEbar/axion/axion/registry"
	"github.com/ZanzyTHEbar/axion/axion/trace"

	"github.com/rs/zerolog"
)

// Cache names, also used as snapshot names.
const (
	CacheGeneration = "generation"
	CacheEmbedding  = "embedding"
	CachePlanner    = "planner"
	CacheDebug      = "debug"
)

// CacheNames lists every cache in display order.
var CacheNames = []string{CacheGeneration, CacheEmbedding, CachePlanner, CacheDebug}

// Resource names in the registry.
const (
	resourceExecutor      = "offload.executor"
	resourceLimiter       = "models.limiter"
	resourceTextModel     = "models.text"
	resourceEmbedModel    = "models.embed"
	resourceGeneration    = "service.generation"
	resourceEmbedding     = "service.embedding"
	resourcePlanner       = "agents.planner"
	resourceDebug         = "agents.debug"
	resourceMemory        = "memory.context"
	resourceDatabase      = "db.snapshots"
	resourceSnapshotStore = "persistence.snapshots"
)

// persisterHandle is the type-erased part of persistence.Persister.
type persisterHandle interface {
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	Stats() persistence.PersisterStats
}

// App wires configuration to services.
type App struct {
	cfg      *config.Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	registry *registry.Registry

	mu         sync.Mutex
	caches     map[string]trackedCache
	persisters map[string]persisterHandle
	closed     bool
}

// trackedCache is the type-erased view of a cache.Store.
type trackedCache struct {
	stats func() cache.Stats
	reset func()
	ttl   time.Duration
}

// New creates an application container. Nothing heavy is built until a
// service is first requested.
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		tracer:     trace.NewZerologTracer(logger),
		registry:   registry.New(logger),
		caches:     make(map[string]trackedCache),
		persisters: make(map[string]persisterHandle),
	}, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Registry returns the resource registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Executor returns the shared compute worker pool.
func (a *App) Executor(ctx context.Context) (*offload.Executor, error) {
	return registry.GetOrCreate(ctx, a.registry, resourceExecutor, func(context.Context) (*offload.Executor, error) {
		return offload.NewExecutor(a.cfg.Offload.Workers, a.logger), nil
	})
}

// Generation returns the generation service.
func (a *App) Generation(ctx context.Context) (*generation.Service, error) {
	return registry.GetOrCreate(ctx, a.registry, resourceGeneration, func(ctx context.Context) (*generation.Service, error) {
		provider, err := registry.GetOrCreate(ctx, a.registry, resourceTextModel, a.buildTextProvider)
		if err != nil {
			return nil, err
		}
		store, err := openStore[string](ctx, a, CacheGeneration, a.cfg.Cache.Generation)
		if err != nil {
			return nil, err
		}
		executor, err := a.Executor(ctx)
		if err != nil {
			return nil, err
		}
		return generation.NewService(provider, store, executor, a.logger, generation.WithTracer(a.tracer)), nil
	})
}

// Embedding returns the embedding service.
func (a *App) Embedding(ctx context.Context) (*embedding.Service, error) {
	return registry.GetOrCreate(ctx, a.registry, resourceEmbedding, func(ctx context.Context) (*embedding.Service, error) {
		provider, err := registry.GetOrCreate(ctx, a.registry, resourceEmbedModel, a.buildEmbedProvider)
		if err != nil {
			return nil, err
		}
		store, err := openStore[[]float32](ctx, a, CacheEmbedding, a.cfg.Cache.Embedding)
		if err != nil {
			return nil, err
		}
		executor, err := a.Executor(ctx)
		if err != nil {
			return nil, err
		}
		return embedding.NewService(provider, store, executor, a.logger, embedding.WithTracer(a.tracer)), nil
	})
}

// LLM returns a pass-through agent over the generation service.
func (a *App) LLM(ctx context.Context) (*agents.LLMAgent, error) {
	gen, err := a.Generation(ctx)
	if err != nil {
		return nil, err
	}
	return agents.NewLLMAgent(gen), nil
}

// Planner returns the planner agent.
func (a *App) Planner(ctx context.Context) (*agents.PlannerAgent, error) {
	return registry.GetOrCreate(ctx, a.registry, resourcePlanner, func(ctx context.Context) (*agents.PlannerAgent, error) {
		gen, err := a.Generation(ctx)
		if err != nil {
			return nil, err
		}
		store, err := openStore[[]string](ctx, a, CachePlanner, a.cfg.Cache.Planner)
		if err != nil {
			return nil, err
		}
		return agents.NewPlannerAgent(gen, store, a.cfg.Agents.PlannerSystemPrompt, a.logger)
	})
}

// Debug returns the debug agent.
func (a *App) Debug(ctx context.Context) (*agents.DebugAgent, error) {
	return registry.GetOrCreate(ctx, a.registry, resourceDebug, func(ctx context.Context) (*agents.DebugAgent, error) {
		gen, err := a.Generation(ctx)
		if err != nil {
			return nil, err
		}
		store, err := openStore[string](ctx, a, CacheDebug, a.cfg.Cache.Debug)
		if err != nil {
			return nil, err
		}
		return agents.NewDebugAgent(gen, store, a.logger), nil
	})
}

// Memory returns the context memory.
func (a *App) Memory(ctx context.Context) (*memory.ContextMemory, error) {
	return registry.GetOrCreate(ctx, a.registry, resourceMemory, func(ctx context.Context) (*memory.ContextMemory, error) {
		emb, err := a.Embedding(ctx)
		if err != nil {
			return nil, err
		}
		return memory.New(emb, memory.NewFlatIndex(emb.Dimensions()), a.cfg.Memory.DefaultLimit, a.logger), nil
	})
}

// Warmup builds both model services concurrently.
func (a *App) Warmup(ctx context.Context) error {
	return a.registry.Warmup(ctx,
		func(ctx context.Context) error {
			_, err := a.Generation(ctx)
			return err
		},
		func(ctx context.Context) error {
			_, err := a.Embedding(ctx)
			return err
		},
	)
}

func (a *App) buildTextProvider(ctx context.Context) (*models.TextProvider, error) {
	cfg := textModelConfig(a.cfg)
	backend, err := models.NewTextBackend(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := a.providerOptions(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewTextProvider(backend, cfg, a.logger, opts...)
}

func (a *App) buildEmbedProvider(ctx context.Context) (*models.EmbedProvider, error) {
	cfg := embedModelConfig(a.cfg)
	backend, err := models.NewEmbedBackend(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := a.providerOptions(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewEmbedProvider(backend, cfg, a.logger, opts...)
}

func (a *App) providerOptions(ctx context.Context) ([]models.ProviderOption, error) {
	rl := a.cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}
	limiter, err := registry.GetOrCreate(ctx, a.registry, resourceLimiter, func(context.Context) (*models.TokenBucket, error) {
		return models.NewTokenBucket(rl.Capacity, rl.RefillRate), nil
	})
	if err != nil {
		return nil, err
	}
	return []models.ProviderOption{models.WithLimiter(limiter)}, nil
}

func textModelConfig(cfg *config.Config) *models.ModelConfig {
	g := cfg.Generation
	return &models.ModelConfig{
		Backend:          g.Backend,
		ModelID:          g.ModelID,
		ModelPath:        g.ModelPath,
		ModelType:        models.ModelTypeChat,
		ContextSize:      g.ContextSize,
		GPULayers:        g.GPULayers,
		Threads:          g.Threads,
		MaxInputTokens:   g.MaxInputTokens,
		MaxTokens:        g.MaxNewTokens,
		Temperature:      g.Temperature,
		TopP:             g.TopP,
		RequestTimeout:   g.RequestTimeout,
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.Breaker.Cooldown,
	}
}

func embedModelConfig(cfg *config.Config) *models.ModelConfig {
	e := cfg.Embedding
	return &models.ModelConfig{
		Backend:          e.Backend,
		ModelID:          e.ModelID,
		ModelPath:        e.ModelPath,
		ModelType:        models.ModelTypeEmbedding,
		ContextSize:      e.ContextSize,
		GPULayers:        e.GPULayers,
		Threads:          e.Threads,
		Dims:             e.Dims,
		Normalize:        e.Normalize,
		RequestTimeout:   e.RequestTimeout,
		BreakerThreshold: cfg.Breaker.Threshold,
		BreakerCooldown:  cfg.Breaker.Cooldown,
	}
}

// snapshotStore returns the configured snapshot backend, or nil when
// persistence is off.
func (a *App) snapshotStore(ctx context.Context) (persistence.SnapshotStore, error) {
	p := a.cfg.Persistence
	switch p.Backend {
	case "file":
		return registry.GetOrCreate(ctx, a.registry, resourceSnapshotStore, func(context.Context) (*persistence.FileStore, error) {
			return persistence.NewFileStore(p.Dir, persistence.FileOptions{
				Compress:         p.Compress,
				CompressionLevel: p.CompressionLevel,
				Atomic:           p.AtomicWrites,
			})
		})
	case db.DriverSQLite, db.DriverLibSQL:
		return registry.GetOrCreate(ctx, a.registry, resourceSnapshotStore, func(ctx context.Context) (*persistence.SQLStore, error) {
			conn, err := registry.GetOrCreate(ctx, a.registry, resourceDatabase, func(ctx context.Context) (*sql.DB, error) {
				return db.Connect(ctx, db.Config{Driver: p.Backend, DatabasePath: p.DatabasePath}, a.logger)
			})
			if err != nil {
				return nil, err
			}
			return persistence.NewSQLStore(ctx, conn, a.logger)
		})
	default:
		return nil, nil
	}
}

// openStore builds a cache and, when configured, restores it from its
// snapshot and starts its flush loop.
func openStore[V any](ctx context.Context, a *App, name string, sc config.StoreConfig) (*cache.Store[V], error) {
	return registry.GetOrCreate(ctx, a.registry, "cache."+name, func(ctx context.Context) (*cache.Store[V], error) {
		store := cache.NewStore[V](sc.Capacity, sc.TTL())
		a.track(name, trackedCache{stats: store.Stats, reset: store.Clear, ttl: store.TTL()}, nil)

		if !sc.Persist || !store.Enabled() {
			return store, nil
		}
		snapshots, err := a.snapshotStore(ctx)
		if err != nil {
			return nil, err
		}
		if snapshots == nil {
			return store, nil
		}

		p := persistence.NewPersister(name, store, snapshots, persistence.FlushPolicy{
			EveryInserts: a.cfg.Persistence.FlushEveryInserts,
			Interval:     a.cfg.Persistence.FlushInterval,
		}, a.logger)
		p.Restore(ctx)
		p.Start()
		a.track(name, trackedCache{stats: store.Stats, reset: store.Clear, ttl: store.TTL()}, p)
		return store, nil
	})
}

func (a *App) track(name string, c trackedCache, p persisterHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.caches[name] = c
	if p != nil {
		a.persisters[name] = p
	}
}

// CacheReport describes one cache for display.
type CacheReport struct {
	Name      string
	Stats     cache.Stats
	TTL       time.Duration
	Persisted bool
	Flush     persistence.PersisterStats
}

// OpenCaches builds every cache, restoring persisted ones, without loading
// any model.
func (a *App) OpenCaches(ctx context.Context) error {
	c := a.cfg.Cache
	if _, err := openStore[string](ctx, a, CacheGeneration, c.Generation); err != nil {
		return err
	}
	if _, err := openStore[[]float32](ctx, a, CacheEmbedding, c.Embedding); err != nil {
		return err
	}
	if _, err := openStore[[]string](ctx, a, CachePlanner, c.Planner); err != nil {
		return err
	}
	_, err := openStore[string](ctx, a, CacheDebug, c.Debug)
	return err
}

// CacheStats reports every cache built so far, in CacheNames order.
func (a *App) CacheStats() []CacheReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	reports := make([]CacheReport, 0, len(a.caches))
	for _, name := range CacheNames {
		c, ok := a.caches[name]
		if !ok {
			continue
		}
		r := CacheReport{Name: name, Stats: c.stats(), TTL: c.ttl}
		if p, ok := a.persisters[name]; ok {
			r.Persisted = true
			r.Flush = p.Stats()
		}
		reports = append(reports, r)
	}
	return reports
}

// Flush writes every persisted cache to its snapshot.
func (a *App) Flush(ctx context.Context) error {
	a.mu.Lock()
	persisters := make(map[string]persisterHandle, len(a.persisters))
	for name, p := range a.persisters {
		persisters[name] = p
	}
	a.mu.Unlock()

	var errs []error
	for _, name := range CacheNames {
		if p, ok := persisters[name]; ok {
			if err := p.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Clear empties every cache built so far and writes the empty snapshots.
func (a *App) Clear(ctx context.Context) error {
	a.mu.Lock()
	resets := make([]func(), 0, len(a.caches))
	for _, c := range a.caches {
		resets = append(resets, c.reset)
	}
	a.mu.Unlock()

	for _, reset := range resets {
		reset()
	}
	return a.Flush(ctx)
}

// Close flushes persisted caches and releases every resource.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	persisters := a.persisters
	a.persisters = make(map[string]persisterHandle)
	a.mu.Unlock()

	var errs []error
	for _, name := range CacheNames {
		if p, ok := persisters[name]; ok {
			if err := p.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := a.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
