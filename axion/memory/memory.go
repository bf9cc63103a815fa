// Package memory stores text contexts with their embeddings and finds the
// stored contexts most similar to a query.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/axion/axion/resolver"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultLimit is the number of matches SearchSimilar returns when no limit
// is given.
const DefaultLimit = 5

// Record is one stored context.
type Record struct {
	ID        string         `json:"id"`
	ContextID string         `json:"context_id"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Match is a record returned by SearchSimilar with its similarity score.
type Match struct {
	Record
	Score float64 `json:"score"`
}

// ContextMemory embeds stored texts through the embedding cache and keeps
// their vectors in a VectorIndex.
type ContextMemory struct {
	embedder     Embedder
	index        VectorIndex
	defaultLimit int
	logger       zerolog.Logger

	mu      sync.RWMutex
	records map[string]Record
}

// New creates a context memory. A defaultLimit <= 0 uses DefaultLimit.
func New(embedder Embedder, index VectorIndex, defaultLimit int, logger zerolog.Logger) *ContextMemory {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &ContextMemory{
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultLimit,
		logger:       logger.With().Str("component", "memory").Logger(),
		records:      make(map[string]Record),
	}
}

// StoreContext embeds text and stores it under a new id, which is returned.
func (m *ContextMemory) StoreContext(ctx context.Context, text, contextID string, payload map[string]any) (string, error) {
	if text == "" {
		return "", resolver.Invalid("text", "cannot be empty")
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("failed to embed context: %w", err)
	}

	rec := Record{
		ID:        uuid.New().String(),
		ContextID: contextID,
		Text:      text,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	if err := m.index.Upsert(ctx, rec.ID, toFloat64(vec)); err != nil {
		return "", fmt.Errorf("failed to index context: %w", err)
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()

	m.logger.Debug().
		Str("id", rec.ID).
		Str("context_id", contextID).
		Int("dims", len(vec)).
		Msg("Stored context")
	return rec.ID, nil
}

// SearchSimilar returns up to limit stored contexts ordered by similarity to
// query. A limit <= 0 uses the default limit.
func (m *ContextMemory) SearchSimilar(ctx context.Context, query string, limit int) ([]Match, error) {
	if query == "" {
		return nil, resolver.Invalid("query", "cannot be empty")
	}
	if limit <= 0 {
		limit = m.defaultLimit
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := m.index.Query(ctx, toFloat64(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search contexts: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		rec, ok := m.records[hit.ID]
		if !ok {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: hit.Score})
	}
	return matches, nil
}

// Forget removes a stored context.
func (m *ContextMemory) Forget(ctx context.Context, id string) error {
	if err := m.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored contexts.
func (m *ContextMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close closes the index.
func (m *ContextMemory) Close() error {
	return m.index.Close()
}

func toFloat64(vec []float32) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}
