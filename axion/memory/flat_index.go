package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// FlatIndex implements VectorIndex using brute-force cosine search over an
// in-memory map. It is the reference index; anything larger belongs in a
// dedicated vector store behind the same port.
type FlatIndex struct {
	dimension int
	mu        sync.RWMutex
	vectors   map[string][]float64
}

// NewFlatIndex creates a new flat vector index
func NewFlatIndex(dimension int) *FlatIndex {
	return &FlatIndex{
		dimension: dimension,
		vectors:   make(map[string][]float64),
	}
}

// Upsert adds or updates a vector in the index
func (f *FlatIndex) Upsert(ctx context.Context, id string, vector []float64) error {
	if len(vector) != f.dimension {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", f.dimension, len(vector))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vectors == nil {
		return fmt.Errorf("index is closed")
	}
	f.vectors[id] = append([]float64(nil), vector...)
	return nil
}

// Query returns the k most similar vectors, best first.
func (f *FlatIndex) Query(ctx context.Context, query []float64, k int) ([]SearchResult, error) {
	if len(query) != f.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", f.dimension, len(query))
	}
	if k <= 0 {
		return []SearchResult{}, nil
	}

	f.mu.RLock()
	results := make([]SearchResult, 0, len(f.vectors))
	for id, vector := range f.vectors {
		if err := ctx.Err(); err != nil {
			f.mu.RUnlock()
			return nil, err
		}
		results = append(results, SearchResult{
			ID:         id,
			Score:      cosineSimilarity(query, vector),
			Provenance: "vector_flat",
		})
	}
	f.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a vector from the index
func (f *FlatIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vectors, id)
	return nil
}

// Len returns the number of indexed vectors.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Close cleans up resources
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	f.vectors = nil
	f.mu.Unlock()
	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

var _ VectorIndex = (*FlatIndex)(nil)
