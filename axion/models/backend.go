package models

import "fmt"

// NewTextBackend builds the backend named by config.Backend.
func NewTextBackend(config *ModelConfig) (TextBackend, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	switch config.Backend {
	case BackendLlama:
		return newLlamaTextBackend(config)
	default:
		return NewLocalTextBackend(config), nil
	}
}

// NewEmbedBackend builds the backend named by config.Backend.
func NewEmbedBackend(config *ModelConfig) (EmbedBackend, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	switch config.Backend {
	case BackendLlama:
		return newLlamaEmbedBackend(config)
	default:
		return NewLocalEmbedBackend(config), nil
	}
}
