package agents

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/axion/axion/cache"
	"github.com/ZanzyTHEbar/axion/axion/offload"
	"github.com/ZanzyTHEbar/axion/axion/resolver"

	"github.com/rs/zerolog"
)

// PlannerAgent decomposes natural-language commands into Git subtasks.
// Results are cached per model, system prompt and command; a response that is not a valid subtask
// document decomposes to the command itself.
type PlannerAgent struct {
	gen          Generator
	systemPrompt string
	parser       *subtaskParser
	resolver     *resolver.Resolver[string, []string]
	logger       zerolog.Logger
}

// NewPlannerAgent creates a planner whose results live in store.
func NewPlannerAgent(gen Generator, store *cache.Store[[]string], systemPrompt string, logger zerolog.Logger) (*PlannerAgent, error) {
	parser, err := newSubtaskParser()
	if err != nil {
		return nil, err
	}

	a := &PlannerAgent{
		gen:          gen,
		systemPrompt: systemPrompt,
		parser:       parser,
		logger:       logger.With().Str("component", "planner").Logger(),
	}
	modelID := gen.ModelID()
	a.resolver = resolver.New(store,
		func(command string) string { return PlannerKey(modelID, systemPrompt, command) },
		a.compute,
		resolver.WithName("planner"),
		resolver.WithLogger(logger),
	)
	return a, nil
}

// PlannerKey is the cache key of a decomposition.
func PlannerKey(modelID, systemPrompt, command string) string {
	return cache.Key("planner", modelID, systemPrompt, command)
}

// Prompt builds the model prompt for command.
func (a *PlannerAgent) Prompt(command string) string {
	return a.systemPrompt + "\nCommand: " + command
}

// Decompose returns the subtasks of command.
func (a *PlannerAgent) Decompose(ctx context.Context, command string) ([]string, error) {
	if err := validateCommands([]string{command}); err != nil {
		return nil, err
	}
	return a.resolver.Resolve(ctx, command)
}

// BatchDecompose returns one subtask list per command, in command order.
// Uncached commands are sent to the generator as a single batch.
func (a *PlannerAgent) BatchDecompose(ctx context.Context, commands []string) ([][]string, error) {
	if err := validateCommands(commands); err != nil {
		return nil, err
	}
	return a.resolver.ResolveBatch(ctx, commands)
}

// DecomposeAsync is the non-blocking form of Decompose.
func (a *PlannerAgent) DecomposeAsync(ctx context.Context, command string) *offload.Future[[]string] {
	if err := validateCommands([]string{command}); err != nil {
		return offload.Resolved[[]string](nil, err)
	}
	return a.resolver.ResolveAsync(ctx, command)
}

// BatchDecomposeAsync is the non-blocking form of BatchDecompose.
func (a *PlannerAgent) BatchDecomposeAsync(ctx context.Context, commands []string) *offload.Future[[][]string] {
	if err := validateCommands(commands); err != nil {
		return offload.Resolved[[][]string](nil, err)
	}
	return a.resolver.ResolveBatchAsync(ctx, commands)
}

// Store returns the planner result cache.
func (a *PlannerAgent) Store() *cache.Store[[]string] {
	return a.resolver.Store()
}

// Stats returns resolver counters.
func (a *PlannerAgent) Stats() resolver.Stats {
	return a.resolver.Stats()
}

func (a *PlannerAgent) compute(ctx context.Context, commands []string) ([][]string, error) {
	prompts := make([]string, len(commands))
	for i, c := range commands {
		prompts[i] = a.Prompt(c)
	}

	responses, err := a.gen.GenerateBatch(ctx, prompts)
	if err != nil {
		return nil, err
	}

	out := make([][]string, len(responses))
	for i, resp := range responses {
		if i >= len(commands) {
			break
		}
		subtasks, err := a.parser.Parse(resp)
		if err != nil {
			a.logger.Debug().Err(err).Str("command", commands[i]).Msg("Falling back to the command as its only subtask")
			subtasks = []string{commands[i]}
		}
		out[i] = subtasks
	}
	return out, nil
}

func validateCommands(commands []string) error {
	for _, c := range commands {
		if strings.TrimSpace(c) == "" {
			return resolver.Invalid("command", "cannot be empty")
		}
	}
	return nil
}
