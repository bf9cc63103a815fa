// Package generation is the process-wide text generation resource: a
// memoizing, single-flight cache in front of an offloaded
// tokenize → infer → decode pipeline.
package generation

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/models"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"
	"github.com/ZanzyTHEbar/axion/axion/trace"

	"github.com/rs/zerolog"
)

// Service generates text for prompts, caching results by model and prompt.
type Service struct {
	backend  models.TextBackend
	executor *offload.Executor
	resolver *resolver.Resolver[string, string]
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tracer trace.Tracer
}

// WithTracer wraps every compute batch in a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// NewService creates a generation service. The store holds generated text
// keyed by Key(backend.ModelID(), prompt).
func NewService(backend models.TextBackend, store *cache.Store[string], executor *offload.Executor, logger zerolog.Logger, opts ...Option) *Service {
	o := options{tracer: trace.Noop{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		backend:  backend,
		executor: executor,
		logger:   logger.With().Str("component", "generation").Logger(),
	}

	modelID := backend.ModelID()
	s.resolver = resolver.New(store,
		func(prompt string) string { return Key(modelID, prompt) },
		s.compute,
		resolver.WithName("generation"),
		resolver.WithLogger(logger),
		resolver.WithTracer(o.tracer),
	)

	s.logger.Info().Str("model_id", modelID).Int("capacity", store.Capacity()).Msg("Generation service initialized")
	return s
}

// Key is the cache key of a generated text.
func Key(modelID, prompt string) string {
	return cache.Key("generation", modelID, prompt)
}

// Generate returns the text generated for prompt.
func (s *Service) Generate(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompts([]string{prompt}); err != nil {
		return "", err
	}
	return s.resolver.Resolve(ctx, prompt)
}

// GenerateBatch returns one generated text per prompt, in prompt order.
// Only uncached prompts reach the model, in a single batch.
func (s *Service) GenerateBatch(ctx context.Context, prompts []string) ([]string, error) {
	if err := validatePrompts(prompts); err != nil {
		return nil, err
	}
	return s.resolver.ResolveBatch(ctx, prompts)
}

// GenerateAsync is the non-blocking form of Generate.
func (s *Service) GenerateAsync(ctx context.Context, prompt string) *offload.Future[string] {
	if err := validatePrompts([]string{prompt}); err != nil {
		return offload.Resolved("", err)
	}
	return s.resolver.ResolveAsync(ctx, prompt)
}

// GenerateBatchAsync is the non-blocking form of GenerateBatch.
func (s *Service) GenerateBatchAsync(ctx context.Context, prompts []string) *offload.Future[[]string] {
	if err := validatePrompts(prompts); err != nil {
		return offload.Resolved[[]string](nil, err)
	}
	return s.resolver.ResolveBatchAsync(ctx, prompts)
}

// ModelID returns the id of the model behind the service.
func (s *Service) ModelID() string {
	return s.backend.ModelID()
}

// Store returns the generation cache.
func (s *Service) Store() *cache.Store[string] {
	return s.resolver.Store()
}

// Stats returns resolver counters.
func (s *Service) Stats() resolver.Stats {
	return s.resolver.Stats()
}

// compute runs the three model steps over the uncached prompts, each step as
// a separate offloaded task.
func (s *Service) compute(ctx context.Context, prompts []string) ([]string, error) {
	seqs := make([]models.Sequence, len(prompts))
	for i, p := range prompts {
		seqs[i] = models.Sequence{Prompt: p}
	}

	seqs, err := offload.RunSteps(ctx, s.executor, seqs,
		offload.Step[[]models.Sequence]{Name: "tokenize", Fn: s.backend.Tokenize},
		offload.Step[[]models.Sequence]{Name: "infer", Fn: s.backend.Infer},
		offload.Step[[]models.Sequence]{Name: "decode", Fn: s.backend.Decode},
	)
	if err != nil {
		return nil, err
	}

	out := make([]string, len(seqs))
	for i, seq := range seqs {
		out[i] = seq.Text
	}
	return out, nil
}

func validatePrompts(prompts []string) error {
	for _, p := range prompts {
		if strings.TrimSpace(p) == "" {
			return resolver.Invalid("prompt", "cannot be empty")
		}
	}
	return nil
}
