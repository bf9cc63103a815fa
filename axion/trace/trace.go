// Package trace provides lightweight span tracing for cache and compute paths.
package trace

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Tracer emits spans and events for observability.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}

type spanLoggerKey struct{}

// ZerologTracer implements Tracer by writing span boundaries as log lines.
type ZerologTracer struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewZerologTracer creates a tracer that logs spans at debug level.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{
		logger: logger,
		level:  zerolog.DebugLevel,
	}
}

// WithLevel returns a copy of the tracer that logs at level.
func (t *ZerologTracer) WithLevel(level zerolog.Level) *ZerologTracer {
	return &ZerologTracer{logger: t.logger, level: level}
}

// StartSpan starts a span and returns the derived context and a finish function.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.logger.With().Str("span", name)
	for _, k := range sortedKeys(attrs) {
		lc = lc.Interface(k, attrs[k])
	}
	spanLogger := lc.Logger()

	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)
	start := time.Now()

	spanLogger.WithLevel(t.level).Str("event", "span_start").Msg("Starting span")

	finish := func(err error) {
		event := spanLogger.WithLevel(t.level)
		if err != nil {
			event = spanLogger.Error().Err(err)
		}
		event.
			Str("event", "span_end").
			Dur("duration", time.Since(start)).
			Msg("Ending span")
	}

	return ctx, finish
}

// Event logs a named event, attached to the current span when there is one.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger := t.logger
	if spanLogger, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		logger = spanLogger
	}

	event := logger.WithLevel(t.level)
	for _, k := range sortedKeys(attrs) {
		event = event.Interface(k, attrs[k])
	}
	event.Str("event", name).Msg("Tracing event")
}

func sortedKeys(attrs map[string]any) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Noop discards everything.
type Noop struct{}

func (Noop) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(err error)) {
	return ctx, func(error) {}
}

func (Noop) Event(context.Context, string, map[string]any) {}

var (
	_ Tracer = (*ZerologTracer)(nil)
	_ Tracer = Noop{}
)
