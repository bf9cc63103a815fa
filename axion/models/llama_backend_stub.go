//go:build !llama || no_llama

package models

import "errors"

// ErrLlamaUnavailable is returned when the binary was built without the
// llama build tag.
var ErrLlamaUnavailable = errors.New("llama backend not compiled in, rebuild with -tags llama")

func newLlamaTextBackend(*ModelConfig) (TextBackend, error) {
	return nil, ErrLlamaUnavailable
}

func newLlamaEmbedBackend(*ModelConfig) (EmbedBackend, error) {
	return nil, ErrLlamaUnavailable
}
