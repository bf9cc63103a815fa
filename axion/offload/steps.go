package offload

import (
	"context"
	"fmt"
)

// Step is one blocking stage of a multi-stage computation.
type Step[T any] struct {
	Name string
	Fn   func(ctx context.Context, in T) (T, error)
}

// RunSteps offloads each step separately, feeding the output of one step into
// the next. The worker slot is released between steps so other queued work
// can interleave.
func RunSteps[T any](ctx context.Context, e *Executor, in T, steps ...Step[T]) (T, error) {
	cur := in
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		step := step
		out, err := Run(ctx, e, step.Name, func(ctx context.Context) (T, error) {
			return step.Fn(ctx, cur)
		})
		if err != nil {
			var zero T
			return zero, fmt.Errorf("%s: %w", step.Name, err)
		}
		cur = out
	}
	return cur, nil
}
