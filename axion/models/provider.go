package models

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// ProviderOption configures a provider.
type ProviderOption func(*guard)

// WithLimiter throttles every backend call through limiter, keyed by model id.
func WithLimiter(limiter RateLimiter) ProviderOption {
	return func(g *guard) { g.limiter = limiter }
}

// WithClock replaces time.Now for breaker and health bookkeeping.
func WithClock(now func() time.Time) ProviderOption {
	return func(g *guard) { g.now = now }
}

// guard wraps every backend call with the breaker, the limiter, the request
// timeout and health bookkeeping.
type guard struct {
	modelID string
	timeout time.Duration
	limiter RateLimiter
	now     func() time.Time
	health  *healthTracker
	logger  zerolog.Logger
}

func newGuard(cfg *ModelConfig, logger zerolog.Logger, opts []ProviderOption) *guard {
	g := &guard{
		modelID: cfg.ModelID,
		timeout: cfg.RequestTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.health = newHealthTracker(cfg.BreakerThreshold, cfg.BreakerCooldown, g.now, logger)
	return g
}

func (g *guard) call(ctx context.Context, op string, n int, fn func(ctx context.Context) (int, error)) error {
	if !g.health.allow() {
		return fmt.Errorf("%s %s: %w", g.modelID, op, ErrBreakerOpen)
	}
	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx, g.modelID); err != nil {
			return fmt.Errorf("%s %s: %w", g.modelID, op, err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := g.now()
	got, err := fn(ctx)
	if err == nil && got != n {
		err = fmt.Errorf("backend returned %d results for %d inputs", got, n)
	}
	if err != nil {
		g.health.recordFailure(fmt.Errorf("%s: %w", op, err))
		return fmt.Errorf("%s failed: %w", op, err)
	}

	duration := g.now().Sub(start)
	g.health.recordSuccess(duration)
	g.logger.Debug().Str("op", op).Int("batch", n).Dur("duration", duration).Msg("Backend call completed")
	return nil
}

// TextProvider guards a TextBackend.
type TextProvider struct {
	backend TextBackend
	config  *ModelConfig
	guard   *guard
}

// NewTextProvider wraps backend with health tracking, breaker and limiter.
func NewTextProvider(backend TextBackend, config *ModelConfig, logger zerolog.Logger, opts ...ProviderOption) (*TextProvider, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger = logger.With().Str("component", "TextProvider").Str("model_id", config.ModelID).Logger()
	return &TextProvider{
		backend: backend,
		config:  config,
		guard:   newGuard(config, logger, opts),
	}, nil
}

// Tokenize runs the backend tokenizer.
func (p *TextProvider) Tokenize(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	return p.step(ctx, "tokenize", seqs, p.backend.Tokenize)
}

// Infer runs the model over tokenized sequences.
func (p *TextProvider) Infer(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	return p.step(ctx, "infer", seqs, p.backend.Infer)
}

// Decode turns model output into text.
func (p *TextProvider) Decode(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	return p.step(ctx, "decode", seqs, p.backend.Decode)
}

func (p *TextProvider) step(ctx context.Context, op string, seqs []Sequence, fn func(context.Context, []Sequence) ([]Sequence, error)) ([]Sequence, error) {
	var out []Sequence
	err := p.guard.call(ctx, op, len(seqs), func(ctx context.Context) (int, error) {
		var err error
		out, err = fn(ctx, seqs)
		return len(out), err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ModelID returns the backend model id.
func (p *TextProvider) ModelID() string {
	return p.backend.ModelID()
}

// Health returns current model health status.
func (p *TextProvider) Health() ModelHealth {
	return p.guard.health.snapshot()
}

// GetConfig returns the current configuration.
func (p *TextProvider) GetConfig() *ModelConfig {
	return p.config
}

// Close releases the backend when it holds resources.
func (p *TextProvider) Close() error {
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// EmbedProvider guards an EmbedBackend and shapes its vectors to the
// configured dimensions.
type EmbedProvider struct {
	backend   EmbedBackend
	config    *ModelConfig
	guard     *guard
	dims      int
	normalize bool
}

// NewEmbedProvider wraps backend with health tracking, breaker and limiter.
func NewEmbedProvider(backend EmbedBackend, config *ModelConfig, logger zerolog.Logger, opts ...ProviderOption) (*EmbedProvider, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger = logger.With().Str("component", "EmbedProvider").Str("model_id", config.ModelID).Logger()
	return &EmbedProvider{
		backend:   backend,
		config:    config,
		guard:     newGuard(config, logger, opts),
		dims:      config.Dims,
		normalize: config.Normalize,
	}, nil
}

// Embed encodes texts, one vector of Dimensions() per text.
func (p *EmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.guard.call(ctx, "embed", len(texts), func(ctx context.Context) (int, error) {
		var err error
		out, err = p.backend.Embed(ctx, texts)
		return len(out), err
	})
	if err != nil {
		return nil, err
	}

	for i, vec := range out {
		vec = adjustToDims(vec, p.dims)
		if p.normalize {
			vec = normalizeL2(vec)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the length of every returned vector.
func (p *EmbedProvider) Dimensions() int {
	return p.dims
}

// ModelID returns the backend model id.
func (p *EmbedProvider) ModelID() string {
	return p.backend.ModelID()
}

// Health returns current model health status.
func (p *EmbedProvider) Health() ModelHealth {
	return p.guard.health.snapshot()
}

// GetConfig returns the current configuration.
func (p *EmbedProvider) GetConfig() *ModelConfig {
	return p.config
}

// Close releases the backend when it holds resources.
func (p *EmbedProvider) Close() error {
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// adjustToDims truncates or pads the embedding vector to the target dimensions
func adjustToDims(vec []float32, target int) []float32 {
	if len(vec) == target {
		return vec
	}

	if len(vec) > target {
		return vec[:target]
	}

	padded := make([]float32, target)
	copy(padded, vec)
	return padded
}

// normalizeL2 scales vec to unit length. Zero vectors are returned unchanged.
func normalizeL2(vec []float32) []float32 {
	v := make([]float64, len(vec))
	for i, x := range vec {
		v[i] = float64(x)
	}

	norm := floats.Norm(v, 2)
	if norm == 0 {
		return vec
	}
	floats.Scale(1/norm, v)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

var (
	_ TextBackend  = (*TextProvider)(nil)
	_ EmbedBackend = (*EmbedProvider)(nil)
)
