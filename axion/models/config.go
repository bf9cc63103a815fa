package models

import (
	"fmt"
	"time"
)

// ModelConfig holds configuration for a backend and its Provider guard
type ModelConfig struct {
	Backend        string
	ModelID        string
	ModelPath      string
	ModelType      ModelType
	ContextSize    int
	GPULayers      int
	Threads        int
	MaxInputTokens int
	MaxTokens      int
	Temperature    float32
	TopP           float32
	Dims           int
	Normalize      bool
	// Resilience settings
	RequestTimeout   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultModelConfig returns default configuration for a local model
func DefaultModelConfig(modelID string, modelType ModelType) *ModelConfig {
	cfg := &ModelConfig{
		Backend:          BackendLocal,
		ModelID:          modelID,
		ModelType:        modelType,
		ContextSize:      2048,
		GPULayers:        0, // CPU-only by default
		Threads:          4,
		MaxInputTokens:   512,
		MaxTokens:        256,
		Temperature:      0.3,
		TopP:             0.9,
		RequestTimeout:   30 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  60 * time.Second,
	}
	if modelType == ModelTypeEmbedding {
		cfg.Dims = 384
		cfg.Normalize = true
		cfg.ContextSize = 512
		cfg.Temperature = 0
		cfg.TopP = 1
	}
	return cfg
}

// ValidateConfig validates the model configuration
func ValidateConfig(config *ModelConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if config.ModelID == "" {
		return fmt.Errorf("model id cannot be empty")
	}

	switch config.Backend {
	case BackendLocal:
	case BackendLlama:
		if config.ModelPath == "" {
			return fmt.Errorf("model path cannot be empty for the llama backend")
		}
		if config.ContextSize <= 0 {
			return fmt.Errorf("context size must be positive, got %d", config.ContextSize)
		}
		if config.GPULayers < 0 {
			return fmt.Errorf("GPU layers cannot be negative, got %d", config.GPULayers)
		}
		if config.Threads <= 0 {
			return fmt.Errorf("threads must be positive, got %d", config.Threads)
		}
	default:
		return fmt.Errorf("unknown backend %q", config.Backend)
	}

	switch config.ModelType {
	case ModelTypeChat:
		if config.MaxInputTokens <= 0 {
			return fmt.Errorf("max input tokens must be positive, got %d", config.MaxInputTokens)
		}
		if config.MaxTokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", config.MaxTokens)
		}
		if config.Temperature < 0 || config.Temperature > 2 {
			return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
		}
		if config.TopP < 0 || config.TopP > 1 {
			return fmt.Errorf("top_p must be between 0 and 1, got %f", config.TopP)
		}
	case ModelTypeEmbedding:
		if config.Dims <= 0 {
			return fmt.Errorf("dims must be positive, got %d", config.Dims)
		}
	default:
		return fmt.Errorf("unknown model type %q", config.ModelType)
	}

	if config.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative, got %v", config.RequestTimeout)
	}

	if config.BreakerThreshold < 0 {
		return fmt.Errorf("breaker threshold cannot be negative, got %d", config.BreakerThreshold)
	}

	if config.BreakerThreshold > 0 && config.BreakerCooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive, got %v", config.BreakerCooldown)
	}

	return nil
}
