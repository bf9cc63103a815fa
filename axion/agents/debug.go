package agents

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"

	"github.com/rs/zerolog"
)

// RePlanRequest identifies one re-plan: the failure text and the context it
// happened in.
type RePlanRequest struct {
	Alt       string
	ContextID string
}

// DebugAgent proposes recovery plans for failed steps. Results are cached
// per model, failure and context.
type DebugAgent struct {
	gen      Generator
	resolver *resolver.Resolver[RePlanRequest, string]
}

// NewDebugAgent creates a debug agent whose results live in store.
func NewDebugAgent(gen Generator, store *cache.Store[string], logger zerolog.Logger) *DebugAgent {
	a := &DebugAgent{gen: gen}
	modelID := gen.ModelID()
	a.resolver = resolver.New(store,
		func(r RePlanRequest) string { return DebugKey(modelID, r.Alt, r.ContextID) },
		a.compute,
		resolver.WithName("debug"),
		resolver.WithLogger(logger),
	)
	return a
}

// DebugKey is the cache key of a re-plan.
func DebugKey(modelID, alt, contextID string) string {
	return cache.Key("debug", modelID, alt, contextID)
}

// RePlanPrompt builds the model prompt for a failure.
func RePlanPrompt(alt string) string {
	return "Re-plan for error: " + alt
}

// RePlan returns a recovery plan for alt within contextID.
func (a *DebugAgent) RePlan(ctx context.Context, alt, contextID string) (string, error) {
	reqs, err := pairRequests([]string{alt}, []string{contextID})
	if err != nil {
		return "", err
	}
	return a.resolver.Resolve(ctx, reqs[0])
}

// BatchRePlan re-plans alts[i] within contextIDs[i]. Both slices must have
// the same length.
func (a *DebugAgent) BatchRePlan(ctx context.Context, alts, contextIDs []string) ([]string, error) {
	reqs, err := pairRequests(alts, contextIDs)
	if err != nil {
		return nil, err
	}
	return a.resolver.ResolveBatch(ctx, reqs)
}

// RePlanAsync is the non-blocking form of RePlan.
func (a *DebugAgent) RePlanAsync(ctx context.Context, alt, contextID string) *offload.Future[string] {
	reqs, err := pairRequests([]string{alt}, []string{contextID})
	if err != nil {
		return offload.Resolved("", err)
	}
	return a.resolver.ResolveAsync(ctx, reqs[0])
}

// BatchRePlanAsync is the non-blocking form of BatchRePlan.
func (a *DebugAgent) BatchRePlanAsync(ctx context.Context, alts, contextIDs []string) *offload.Future[[]string] {
	reqs, err := pairRequests(alts, contextIDs)
	if err != nil {
		return offload.Resolved[[]string](nil, err)
	}
	return a.resolver.ResolveBatchAsync(ctx, reqs)
}

// Store returns the debug result cache.
func (a *DebugAgent) Store() *cache.Store[string] {
	return a.resolver.Store()
}

// Stats returns resolver counters.
func (a *DebugAgent) Stats() resolver.Stats {
	return a.resolver.Stats()
}

func (a *DebugAgent) compute(ctx context.Context, reqs []RePlanRequest) ([]string, error) {
	prompts := make([]string, len(reqs))
	for i, r := range reqs {
		prompts[i] = RePlanPrompt(r.Alt)
	}
	return a.gen.GenerateBatch(ctx, prompts)
}

func pairRequests(alts, contextIDs []string) ([]RePlanRequest, error) {
	if len(alts) != len(contextIDs) {
		return nil, resolver.Invalid("contextIDs", fmt.Sprintf("got %d context ids for %d alts", len(contextIDs), len(alts)))
	}
	reqs := make([]RePlanRequest, len(alts))
	for i := range alts {
		if alts[i] == "" {
			return nil, resolver.Invalid("alt", "cannot be empty")
		}
		reqs[i] = RePlanRequest{Alt: alts[i], ContextID: contextIDs[i]}
	}
	return reqs, nil
}
