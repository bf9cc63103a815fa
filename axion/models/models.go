// Package models holds the compute collaborators behind the generation and
// embedding caches: backend ports, a deterministic local backend, an optional
// llama.cpp backend and the Provider guard that adds health tracking, a
// circuit breaker and rate limiting.
package models

import "context"

// ModelType represents the kind of work a model does
type ModelType string

const (
	ModelTypeEmbedding ModelType = "embedding"
	ModelTypeChat      ModelType = "chat"
)

// Backend names accepted in configuration.
const (
	BackendLocal = "local"
	BackendLlama = "llama"
)

// Sequence is one item of a generation batch as it moves through the
// tokenize, infer and decode steps.
type Sequence struct {
	Prompt string
	Tokens []string // Set by Tokenize, truncated to the input limit
	Output []string // Set by Infer
	Text   string   // Set by Decode
}

// TextBackend runs the three generation steps over a batch. Every method
// returns exactly one sequence per input, in input order.
type TextBackend interface {
	Tokenize(ctx context.Context, seqs []Sequence) ([]Sequence, error)
	Infer(ctx context.Context, seqs []Sequence) ([]Sequence, error)
	Decode(ctx context.Context, seqs []Sequence) ([]Sequence, error)
	ModelID() string
}

// EmbedBackend encodes a batch of texts into vectors.
type EmbedBackend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
}
