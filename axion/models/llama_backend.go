//go:build llama && !no_llama

package models

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaTextBackend runs generation on a GGUF model through llama.cpp.
// llama.cpp contexts are not safe for concurrent use, so calls are serialized.
type LlamaTextBackend struct {
	mu     sync.Mutex
	model  *llama.LLama
	config *ModelConfig
}

// NewLlamaTextBackend loads the GGUF model at config.ModelPath.
func NewLlamaTextBackend(config *ModelConfig) (*LlamaTextBackend, error) {
	model, err := loadModel(config, false)
	if err != nil {
		return nil, err
	}
	return &LlamaTextBackend{model: model, config: config}, nil
}

func loadModel(config *ModelConfig, embeddings bool) (*llama.LLama, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not available: %w", err)
	}

	options := []llama.ModelOption{
		llama.SetContext(config.ContextSize),
		llama.SetGPULayers(config.GPULayers),
	}
	if embeddings {
		options = append(options, llama.EnableEmbeddings)
	}

	model, err := llama.New(config.ModelPath, options...)
	if err != nil {
		return nil, fmt.Errorf("llama.New failed: %w", err)
	}
	return model, nil
}

// Tokenize splits prompts on whitespace and truncates them to the input limit.
func (b *LlamaTextBackend) Tokenize(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		seq.Tokens = truncate(strings.Fields(seq.Prompt), b.config.MaxInputTokens)
		out[i] = seq
	}
	return out, ctx.Err()
}

// Infer predicts a completion for every sequence.
func (b *LlamaTextBackend) Infer(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := b.model.Predict(strings.Join(seq.Tokens, " "),
			llama.SetTemperature(b.config.Temperature),
			llama.SetTopP(b.config.TopP),
			llama.SetTokens(b.config.MaxTokens),
			llama.SetThreads(b.config.Threads),
			llama.SetRepeat(1),
		)
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %w", err)
		}
		seq.Output = []string{result}
		out[i] = seq
	}
	return out, nil
}

// Decode trims the raw completion.
func (b *LlamaTextBackend) Decode(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		seq.Text = strings.TrimSpace(strings.Join(seq.Output, ""))
		out[i] = seq
	}
	return out, ctx.Err()
}

// ModelID returns the configured model id.
func (b *LlamaTextBackend) ModelID() string {
	return b.config.ModelID
}

// Close frees the model.
func (b *LlamaTextBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}

// LlamaEmbedBackend computes embeddings with a GGUF embedding model.
type LlamaEmbedBackend struct {
	mu     sync.Mutex
	model  *llama.LLama
	config *ModelConfig
}

// NewLlamaEmbedBackend loads the GGUF model at config.ModelPath with
// embeddings enabled.
func NewLlamaEmbedBackend(config *ModelConfig) (*LlamaEmbedBackend, error) {
	model, err := loadModel(config, true)
	if err != nil {
		return nil, err
	}
	return &LlamaEmbedBackend{model: model, config: config}, nil
}

// Embed encodes every text.
func (b *LlamaEmbedBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := b.model.Embeddings(text, llama.SetThreads(b.config.Threads))
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector length.
func (b *LlamaEmbedBackend) Dimensions() int {
	return b.config.Dims
}

// ModelID returns the configured model id.
func (b *LlamaEmbedBackend) ModelID() string {
	return b.config.ModelID
}

// Close frees the model.
func (b *LlamaEmbedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.model != nil {
		b.model.Free()
		b.model = nil
	}
	return nil
}

func newLlamaTextBackend(config *ModelConfig) (TextBackend, error) {
	return NewLlamaTextBackend(config)
}

func newLlamaEmbedBackend(config *ModelConfig) (EmbedBackend, error) {
	return NewLlamaEmbedBackend(config)
}
