package memory

import "context"

// VectorIndex manages vector storage and similarity search
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float64) error
	Query(ctx context.Context, query []float64, k int) ([]SearchResult, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// SearchResult is one index hit. Higher scores are more similar.
type SearchResult struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Provenance string  `json:"provenance"` // Which index produced it
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
