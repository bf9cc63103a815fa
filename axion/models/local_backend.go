package models

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
)

const (
	commandMarker = "Command:"
	replanMarker  = "Re-plan for error:"
)

// LocalTextBackend is a deterministic, dependency-free text model. It
// answers planner prompts with a JSON subtask list, re-plan prompts with a
// recovery step and echoes anything else.
type LocalTextBackend struct {
	modelID        string
	maxInputTokens int
	maxTokens      int
}

// NewLocalTextBackend creates a local text backend.
func NewLocalTextBackend(config *ModelConfig) *LocalTextBackend {
	return &LocalTextBackend{
		modelID:        config.ModelID,
		maxInputTokens: config.MaxInputTokens,
		maxTokens:      config.MaxTokens,
	}
}

// Tokenize splits prompts on whitespace and truncates them to the input limit.
func (b *LocalTextBackend) Tokenize(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seq.Tokens = truncate(strings.Fields(seq.Prompt), b.maxInputTokens)
		out[i] = seq
	}
	return out, nil
}

// Infer produces output tokens for every sequence.
func (b *LocalTextBackend) Infer(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reply, err := respond(strings.Join(seq.Tokens, " "))
		if err != nil {
			return nil, err
		}
		seq.Output = truncate(strings.Fields(reply), b.maxTokens)
		out[i] = seq
	}
	return out, nil
}

// Decode joins output tokens into text.
func (b *LocalTextBackend) Decode(ctx context.Context, seqs []Sequence) ([]Sequence, error) {
	out := make([]Sequence, len(seqs))
	for i, seq := range seqs {
		seq.Text = strings.Join(seq.Output, " ")
		out[i] = seq
	}
	return out, ctx.Err()
}

// ModelID returns the configured model id.
func (b *LocalTextBackend) ModelID() string {
	return b.modelID
}

func respond(input string) (string, error) {
	if idx := strings.Index(input, commandMarker); idx >= 0 {
		command := strings.TrimSpace(input[idx+len(commandMarker):])
		doc, err := json.Marshal(map[string][]string{"subtasks": splitCommand(command)})
		if err != nil {
			return "", err
		}
		return string(doc), nil
	}

	if rest, ok := strings.CutPrefix(input, replanMarker); ok {
		return "Inspect the failure (" + strings.TrimSpace(rest) + ") and retry the previous step", nil
	}

	return input, nil
}

var commandSeparators = []string{";", " and then ", ", then ", " then ", " and "}

// splitCommand breaks a compound command on its connectives.
func splitCommand(command string) []string {
	parts := []string{command}
	for _, sep := range commandSeparators {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	subtasks := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), ","); p != "" {
			subtasks = append(subtasks, p)
		}
	}
	return subtasks
}

func truncate(tokens []string, limit int) []string {
	if limit > 0 && len(tokens) > limit {
		return tokens[:limit]
	}
	return tokens
}

// LocalEmbedBackend is a deterministic hashed bag-of-words encoder. Texts
// sharing words get similar vectors, which is enough for similarity search
// without a model file.
type LocalEmbedBackend struct {
	modelID string
	dims    int
}

// NewLocalEmbedBackend creates a local embedding backend.
func NewLocalEmbedBackend(config *ModelConfig) *LocalEmbedBackend {
	return &LocalEmbedBackend{modelID: config.ModelID, dims: config.Dims}
}

// Embed encodes every text.
func (b *LocalEmbedBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.encode(text)
	}
	return out, nil
}

func (b *LocalEmbedBackend) encode(text string) []float32 {
	vec := make([]float32, b.dims)
	if b.dims == 0 {
		return vec
	}
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
		sum := h.Sum64()

		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(b.dims)] += sign
	}
	return vec
}

// Dimensions returns the vector length.
func (b *LocalEmbedBackend) Dimensions() int {
	return b.dims
}

// ModelID returns the configured model id.
func (b *LocalEmbedBackend) ModelID() string {
	return b.modelID
}

var (
	_ TextBackend  = (*LocalTextBackend)(nil)
	_ EmbedBackend = (*LocalEmbedBackend)(nil)
)
