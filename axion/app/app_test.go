package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/axion/axion/config"
	"github.com/ZanzyTHEbar/axion/axion/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.Persistence.Backend = backend
	cfg.Persistence.Dir = filepath.Join(dir, "snapshots")
	cfg.Persistence.DatabasePath = filepath.Join(dir, "axion.db")
	cfg.Persistence.FlushInterval = 0
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

func TestServicesAreSingletons(t *testing.T) {
	a := newApp(t, testConfig(t, "none"))
	defer a.Close(context.Background())
	ctx := context.Background()

	g1, err := a.Generation(ctx)
	require.NoError(t, err)
	g2, err := a.Generation(ctx)
	require.NoError(t, err)
	assert.Same(t, g1, g2)

	p1, err := a.Planner(ctx)
	require.NoError(t, err)
	p2, err := a.Planner(ctx)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	assert.True(t, a.Registry().Has(resourceExecutor))
	assert.True(t, a.Registry().Has("cache."+CacheGeneration))
}

func TestWarmupBuildsModels(t *testing.T) {
	a := newApp(t, testConfig(t, "none"))
	defer a.Close(context.Background())

	require.NoError(t, a.Warmup(context.Background()))
	assert.True(t, a.Registry().Has(resourceGeneration))
	assert.True(t, a.Registry().Has(resourceEmbedding))
}

func TestGenerationCacheSurvivesRestart(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			ctx := context.Background()

			first := newApp(t, cfg)
			gen, err := first.Generation(ctx)
			require.NoError(t, err)
			out, err := gen.Generate(ctx, "persist me")
			require.NoError(t, err)
			require.NoError(t, first.Close(ctx))

			second := newApp(t, cfg)
			defer second.Close(ctx)
			gen, err = second.Generation(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, gen.Store().Len())

			again, err := gen.Generate(ctx, "persist me")
			require.NoError(t, err)
			assert.Equal(t, out, again)
			assert.Equal(t, uint64(0), gen.Stats().ComputeCalls)
		})
	}
}

func TestUnpersistedCachesStartEmpty(t *testing.T) {
	cfg := testConfig(t, "file")
	ctx := context.Background()

	first := newApp(t, cfg)
	planner, err := first.Planner(ctx)
	require.NoError(t, err)
	_, err = planner.Decompose(ctx, "git pull and git push")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	second := newApp(t, cfg)
	defer second.Close(ctx)
	planner, err = second.Planner(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, planner.Store().Len())
}

func TestCacheStatsFlushAndClear(t *testing.T) {
	cfg := testConfig(t, "file")
	a := newApp(t, cfg)
	ctx := context.Background()
	defer a.Close(ctx)

	require.NoError(t, a.OpenCaches(ctx))

	emb, err := a.Embedding(ctx)
	require.NoError(t, err)
	_, err = emb.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)

	reports := a.CacheStats()
	require.Len(t, reports, len(CacheNames))
	assert.Equal(t, CacheGeneration, reports[0].Name)
	assert.Equal(t, CacheEmbedding, reports[1].Name)
	assert.Equal(t, 2, reports[1].Stats.Size)
	assert.True(t, reports[1].Persisted)
	assert.False(t, reports[2].Persisted)

	require.NoError(t, a.Flush(ctx))
	assert.False(t, a.CacheStats()[1].Flush.Dirty)

	require.NoError(t, a.Clear(ctx))
	assert.Equal(t, 0, a.CacheStats()[1].Stats.Size)
	require.NoError(t, a.Close(ctx))

	reopened := newApp(t, cfg)
	defer reopened.Close(ctx)
	require.NoError(t, reopened.OpenCaches(ctx))
	assert.Equal(t, 0, reopened.CacheStats()[1].Stats.Size)
}

func TestMemoryThroughApp(t *testing.T) {
	a := newApp(t, testConfig(t, "none"))
	ctx := context.Background()
	defer a.Close(ctx)

	mem, err := a.Memory(ctx)
	require.NoError(t, err)

	_, err = mem.StoreContext(ctx, "rebase onto main", "repo", nil)
	require.NoError(t, err)

	matches, err := mem.SearchSimilar(ctx, "rebase onto main", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestUnavailableBackendIsAnInitError(t *testing.T) {
	cfg := testConfig(t, "none")
	cfg.Generation.Backend = "llama"
	cfg.Generation.ModelPath = filepath.Join(t.TempDir(), "missing.gguf")
	a := newApp(t, cfg)
	defer a.Close(context.Background())

	_, err := a.Generation(context.Background())
	var ierr *registry.InitError
	require.ErrorAs(t, err, &ierr)
	assert.False(t, a.Registry().Has(resourceGeneration))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "none")
	cfg.Offload.Workers = 0
	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(nil, zerolog.Nop())
	assert.Error(t, err)
}
