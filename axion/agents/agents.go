// Package agents holds the prompt-level agents built on the generation
// service. Planner and debug agents keep their own result caches in front of
// the generation cache.
package agents

import (
	"context"

	"github.com/ZanzyTHEbar/axion/axion/offload"
)

// Generator produces text for prompts. ModelID names the model behind it and
// is part of every agent cache key.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateBatch(ctx context.Context, prompts []string) ([]string, error)
	ModelID() string
}

// LLMAgent passes prompts straight to the generator.
type LLMAgent struct {
	gen Generator
}

// NewLLMAgent creates a pass-through agent.
func NewLLMAgent(gen Generator) *LLMAgent {
	return &LLMAgent{gen: gen}
}

// Generate returns the generated text for prompt.
func (a *LLMAgent) Generate(ctx context.Context, prompt string) (string, error) {
	return a.gen.Generate(ctx, prompt)
}

// GenerateAsync is the non-blocking form of Generate.
func (a *LLMAgent) GenerateAsync(ctx context.Context, prompt string) *offload.Future[string] {
	return offload.Go(ctx, func(ctx context.Context) (string, error) {
		return a.gen.Generate(ctx, prompt)
	})
}
