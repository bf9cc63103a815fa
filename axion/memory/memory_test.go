package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/embedding"
	"github.com/ZanzyTHEbar/axion/axion/models"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableEmbedder maps texts to fixed vectors.
type tableEmbedder map[string][]float32

func (t tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := t[text]
	if !ok {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

func TestFlatIndexOrdersByCosine(t *testing.T) {
	idx := NewFlatIndex(2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "east", []float64{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "north", []float64{0, 1}))
	require.NoError(t, idx.Upsert(ctx, "northeast", []float64{1, 1}))

	res, err := idx.Query(ctx, []float64{2, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "east", res[0].ID)
	assert.Equal(t, "northeast", res[1].ID)
	assert.InDelta(t, 0.9988, res[0].Score, 1e-3)

	require.NoError(t, idx.Delete(ctx, "east"))
	res, err = idx.Query(ctx, []float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, 2, idx.Len())
}

func TestFlatIndexRejectsWrongDimension(t *testing.T) {
	idx := NewFlatIndex(3)
	ctx := context.Background()

	assert.ErrorContains(t, idx.Upsert(ctx, "x", []float64{1}), "dimension mismatch")
	_, err := idx.Query(ctx, []float64{1, 2}, 1)
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestStoreContextAndSearchSimilar(t *testing.T) {
	emb := tableEmbedder{
		"fix merge conflict":  {1, 0, 0},
		"resolve the rebase":  {0.9, 0.1, 0},
		"order team lunch":    {0, 0, 1},
		"how to fix conflict": {1, 0.05, 0},
	}
	m := New(emb, NewFlatIndex(3), 0, zerolog.Nop())
	ctx := context.Background()

	id, err := m.StoreContext(ctx, "fix merge conflict", "repo-a", map[string]any{"step": 1})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	_, err = m.StoreContext(ctx, "resolve the rebase", "repo-a", nil)
	require.NoError(t, err)
	_, err = m.StoreContext(ctx, "order team lunch", "office", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	matches, err := m.SearchSimilar(ctx, "how to fix conflict", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "fix merge conflict", matches[0].Text)
	assert.Equal(t, "repo-a", matches[0].ContextID)
	assert.Equal(t, 1, matches[0].Payload["step"])
	assert.Equal(t, "resolve the rebase", matches[1].Text)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)

	// Default limit returns everything stored here.
	matches, err = m.SearchSimilar(ctx, "how to fix conflict", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	require.NoError(t, m.Forget(ctx, id))
	matches, err = m.SearchSimilar(ctx, "how to fix conflict", 1)
	require.NoError(t, err)
	assert.Equal(t, "resolve the rebase", matches[0].Text)
}

func TestSearchSimilarEmptyMemory(t *testing.T) {
	m := New(tableEmbedder{"q": {1, 0}}, NewFlatIndex(2), 5, zerolog.Nop())

	matches, err := m.SearchSimilar(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryRejectsEmptyInput(t *testing.T) {
	m := New(tableEmbedder{}, NewFlatIndex(2), 5, zerolog.Nop())
	ctx := context.Background()

	_, err := m.StoreContext(ctx, "", "c", nil)
	assert.ErrorIs(t, err, resolver.ErrInvalidInput)
	_, err = m.SearchSimilar(ctx, "", 1)
	assert.ErrorIs(t, err, resolver.ErrInvalidInput)
}

func TestMemoryEmbedFailure(t *testing.T) {
	m := New(tableEmbedder{}, NewFlatIndex(2), 5, zerolog.Nop())

	_, err := m.StoreContext(context.Background(), "unknown", "c", nil)
	assert.ErrorContains(t, err, "failed to embed context")
	assert.Equal(t, 0, m.Len())
}

func TestMemoryOverEmbeddingCache(t *testing.T) {
	cfg := models.DefaultModelConfig("local-hash-384", models.ModelTypeEmbedding)
	executor := offload.NewExecutor(1, zerolog.Nop())
	defer executor.Close()
	svc := embedding.NewService(models.NewLocalEmbedBackend(cfg), cache.NewStore[[]float32](100, 0), executor, zerolog.Nop())

	m := New(svc, NewFlatIndex(svc.Dimensions()), 5, zerolog.Nop())
	ctx := context.Background()

	_, err := m.StoreContext(ctx, "push branch to origin", "ctx", nil)
	require.NoError(t, err)
	_, err = m.StoreContext(ctx, "water the office plants", "ctx", nil)
	require.NoError(t, err)

	matches, err := m.SearchSimilar(ctx, "push the branch", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "push branch to origin", matches[0].Text)

	// Repeating a stored text is served from the embedding cache.
	_, err = m.StoreContext(ctx, "push branch to origin", "ctx", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), svc.Stats().ComputeCalls)
}
