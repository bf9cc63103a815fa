// Package embedding is the process-wide embedding resource: a memoizing,
// single-flight cache in front of an offloaded batch encoder.
package embedding

import (
	"context"
	"slices"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/models"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"
	"github.com/ZanzyTHEbar/axion/axion/trace"

	"github.com/rs/zerolog"
)

// Service embeds texts, caching vectors by model and text. Every returned
// vector is a copy owned by the caller.
type Service struct {
	backend  models.EmbedBackend
	executor *offload.Executor
	resolver *resolver.Resolver[string, []float32]
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

// NewService creates an embedding service.
func NewService(backend models.EmbedBackend, store *cache.Store[[]float32], executor *offload.Executor, logger zerolog.Logger, opts ...Option) *Service {
	o := options{tracer: trace.Noop{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		backend:  backend,
		executor: executor,
		logger:   logger.With().Str("component", "embedding").Logger(),
	}

	modelID := backend.ModelID()
	s.resolver = resolver.New(store,
		func(text string) string { return Key(modelID, text) },
		s.compute,
		resolver.WithName("embedding"),
		resolver.WithLogger(logger),
		resolver.WithTracer(o.tracer),
	)

	s.logger.Info().
		Str("model_id", modelID).
		Int("dims", backend.Dimensions()).
		Int("capacity", store.Capacity()).
		Msg("Embedding service initialized")
	return s
}

// Key is the cache key of an embedding.
func Key(modelID, text string) string {
	return cache.Key("embedding", modelID, text)
}

// Embed returns the vector for text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateTexts([]string{text}); err != nil {
		return nil, err
	}
	vec, err := s.resolver.Resolve(ctx, text)
	if err != nil {
		return nil, err
	}
	return slices.Clone(vec), nil
}

// EmbedBatch returns one vector per text, in text order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	vecs, err := s.resolver.ResolveBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(vecs))
	for i, vec := range vecs {
		out[i] = slices.Clone(vec)
	}
	return out, nil
}

// EmbedAsync is the non-blocking form of Embed.
func (s *Service) EmbedAsync(ctx context.Context, text string) *offload.Future[[]float32] {
	if err := validateTexts([]string{text}); err != nil {
		return offload.Resolved[[]float32](nil, err)
	}
	return offload.Go(ctx, func(ctx context.Context) ([]float32, error) {
		return s.Embed(ctx, text)
	})
}

// EmbedBatchAsync is the non-blocking form of EmbedBatch.
func (s *Service) EmbedBatchAsync(ctx context.Context, texts []string) *offload.Future[[][]float32] {
	if err := validateTexts(texts); err != nil {
		return offload.Resolved[[][]float32](nil, err)
	}
	return offload.Go(ctx, func(ctx context.Context) ([][]float32, error) {
		return s.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the vector length.
func (s *Service) Dimensions() int {
	return s.backend.Dimensions()
}

// ModelID returns the id of the model behind the service.
func (s *Service) ModelID() string {
	return s.backend.ModelID()
}

// Store returns the embedding cache.
func (s *Service) Store() *cache.Store[[]float32] {
	return s.resolver.Store()
}

// Stats returns resolver counters.
func (s *Service) Stats() resolver.Stats {
	return s.resolver.Stats()
}

func (s *Service) compute(ctx context.Context, texts []string) ([][]float32, error) {
	return offload.Run(ctx, s.executor, "embed", func(ctx context.Context) ([][]float32, error) {
		return s.backend.Embed(ctx, texts)
	})
}

func validateTexts(texts []string) error {
	for _, t := range texts {
		if t == "" {
			return resolver.Invalid("text", "cannot be empty")
		}
	}
	return nil
}
