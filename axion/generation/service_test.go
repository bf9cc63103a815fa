package generation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/models"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBackend records every Infer batch and can be told to fail.
type countingBackend struct {
	*models.LocalTextBackend
	mu      sync.Mutex
	batches [][]string
	err     error
	gate    chan struct{}
}

func newCountingBackend() *countingBackend {
	return &countingBackend{LocalTextBackend: models.NewLocalTextBackend(models.DefaultModelConfig("test-model", models.ModelTypeChat))}
}

func (b *countingBackend) Infer(ctx context.Context, seqs []models.Sequence) ([]models.Sequence, error) {
	prompts := make([]string, len(seqs))
	for i, s := range seqs {
		prompts[i] = s.Prompt
	}
	b.mu.Lock()
	b.batches = append(b.batches, prompts)
	err, gate := b.err, b.gate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return b.LocalTextBackend.Infer(ctx, seqs)
}

func (b *countingBackend) Batches() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.batches...)
}

func newService(t *testing.T, backend models.TextBackend, capacity int) *Service {
	t.Helper()
	executor := offload.NewExecutor(2, zerolog.Nop())
	t.Cleanup(func() { executor.Close() })
	return NewService(backend, cache.NewStore[string](capacity, 0), executor, zerolog.Nop())
}

func TestGenerateCachesResult(t *testing.T) {
	backend := newCountingBackend()
	svc := newService(t, backend, 10)
	ctx := context.Background()

	first, err := svc.Generate(ctx, "hello   world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", first)

	second, err := svc.Generate(ctx, "hello   world")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Len(t, backend.Batches(), 1)
	assert.Equal(t, uint64(1), svc.Stats().Hits)
	assert.Equal(t, "test-model", svc.ModelID())
}

func TestGenerateBatchSendsOnlyMisses(t *testing.T) {
	backend := newCountingBackend()
	svc := newService(t, backend, 10)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "b")
	require.NoError(t, err)

	out, err := svc.GenerateBatch(ctx, []string{"a", "b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "a"}, out)

	assert.Equal(t, [][]string{{"b"}, {"a", "c"}}, backend.Batches())
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	backend := newCountingBackend()
	svc := newService(t, backend, 10)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "  ")
	var verr *resolver.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "prompt", verr.Field)

	_, err = svc.GenerateBatch(ctx, []string{"ok", ""})
	assert.ErrorIs(t, err, resolver.ErrInvalidInput)

	_, err = svc.GenerateAsync(ctx, "").Await(ctx)
	assert.ErrorIs(t, err, resolver.ErrInvalidInput)

	assert.Empty(t, backend.Batches())
}

func TestGenerateFailureIsNotCached(t *testing.T) {
	backend := newCountingBackend()
	backend.err = errors.New("model crashed")
	svc := newService(t, backend, 10)
	ctx := context.Background()

	_, err := svc.Generate(ctx, "x")
	var cerr *resolver.ComputeError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorContains(t, err, "model crashed")
	assert.Equal(t, 0, svc.Store().Len())

	backend.mu.Lock()
	backend.err = nil
	backend.mu.Unlock()

	out, err := svc.Generate(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
	assert.Len(t, backend.Batches(), 2)
}

func TestGenerateAsync(t *testing.T) {
	backend := newCountingBackend()
	svc := newService(t, backend, 10)
	ctx := context.Background()

	one := svc.GenerateAsync(ctx, "p1")
	many := svc.GenerateBatchAsync(ctx, []string{"p2", "p3"})

	v, err := one.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", v)

	vs, err := many.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p3"}, vs)
}

func TestConcurrentGenerateSharesOneCompute(t *testing.T) {
	backend := newCountingBackend()
	backend.gate = make(chan struct{})
	svc := newService(t, backend, 10)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Generate(ctx, "shared prompt")
		}()
	}

	require.Eventually(t, func() bool { return len(backend.Batches()) == 1 }, testTimeout, testTick)
	close(backend.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared prompt", results[i])
	}
	assert.Len(t, backend.Batches(), 1)
}

func TestDisabledCacheAlwaysComputes(t *testing.T) {
	backend := newCountingBackend()
	svc := newService(t, backend, 0)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		_, err := svc.Generate(ctx, "same")
		require.NoError(t, err)
	}
	assert.Len(t, backend.Batches(), 3)
}
