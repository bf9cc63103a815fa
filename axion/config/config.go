package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/axion/axion"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Offload     OffloadConfig     `mapstructure:"offload"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Agents      AgentsConfig      `mapstructure:"agents"`
	Memory      MemoryConfig      `mapstructure:"memory"`
}

// AppConfig stores process-wide settings.
type AppConfig struct {
	Name     string `mapstructure:"name"`
	CacheDir string `mapstructure:"cache_dir"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Format string `mapstructure:"format"` // "console" or "json"
}

// GenerationConfig stores text generation model settings.
type GenerationConfig struct {
	Backend        string        `mapstructure:"backend"`          // "local" or "llama"
	ModelID        string        `mapstructure:"model_id"`         // Part of every cache key
	ModelPath      string        `mapstructure:"model_path"`       // GGUF file for the llama backend
	MaxInputTokens int           `mapstructure:"max_input_tokens"` // Prompt truncation length
	MaxNewTokens   int           `mapstructure:"max_new_tokens"`   // Max tokens to generate
	Temperature    float32       `mapstructure:"temperature"`      // Sampling temperature
	TopP           float32       `mapstructure:"top_p"`            // Nucleus sampling
	ContextSize    int           `mapstructure:"context_size"`     // llama context window
	Threads        int           `mapstructure:"threads"`          // llama threads
	GPULayers      int           `mapstructure:"gpu_layers"`       // llama GPU offload
	RequestTimeout time.Duration `mapstructure:"request_timeout"`  // Per batch
}

// EmbeddingConfig stores embedding model settings.
type EmbeddingConfig struct {
	Backend        string        `mapstructure:"backend"`    // "local" or "llama"
	ModelID        string        `mapstructure:"model_id"`   // Part of every cache key
	ModelPath      string        `mapstructure:"model_path"` // GGUF file for the llama backend
	Dims           int           `mapstructure:"dims"`       // Output dimensions
	Normalize      bool          `mapstructure:"normalize"`  // L2-normalize vectors
	ContextSize    int           `mapstructure:"context_size"`
	Threads        int           `mapstructure:"threads"`
	GPULayers      int           `mapstructure:"gpu_layers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StoreConfig sizes a single cache.
type StoreConfig struct {
	Capacity   int  `mapstructure:"capacity"`    // 0 disables the cache
	TTLSeconds int  `mapstructure:"ttl_seconds"` // 0 means entries never expire
	Persist    bool `mapstructure:"persist"`     // Snapshot to the persistence backend
}

// TTL returns the entry lifetime as a duration.
func (s StoreConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// CacheConfig stores per-cache sizing.
type CacheConfig struct {
	Generation StoreConfig `mapstructure:"generation"`
	Embedding  StoreConfig `mapstructure:"embedding"`
	Planner    StoreConfig `mapstructure:"planner"`
	Debug      StoreConfig `mapstructure:"debug"`
}

// PersistenceConfig stores snapshot settings.
type PersistenceConfig struct {
	Backend           string        `mapstructure:"backend"`             // "none", "file", "sqlite", "libsql"
	Dir               string        `mapstructure:"dir"`                 // Snapshot directory for "file"
	DatabasePath      string        `mapstructure:"database_path"`       // Database file for "sqlite" and "libsql"
	FlushEveryInserts int           `mapstructure:"flush_every_inserts"` // 0 disables the insert trigger
	FlushInterval     time.Duration `mapstructure:"flush_interval"`      // 0 disables the periodic trigger
	AtomicWrites      bool          `mapstructure:"atomic_writes"`       // Temp file + rename
	Compress          bool          `mapstructure:"compress"`            // zstd
	CompressionLevel  int           `mapstructure:"compression_level"`   // zstd level, 0 for default
}

// OffloadConfig sizes the compute worker pool.
type OffloadConfig struct {
	Workers int `mapstructure:"workers"`
}

// RateLimitConfig throttles compute dispatch.
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Capacity   int           `mapstructure:"capacity"`    // Token bucket capacity
	RefillRate time.Duration `mapstructure:"refill_rate"` // Time per token
}

// BreakerConfig guards a failing model.
type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"` // Consecutive failures before opening
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// AgentsConfig stores agent prompts.
type AgentsConfig struct {
	PlannerSystemPrompt string `mapstructure:"planner_system_prompt"`
}

// MemoryConfig stores context memory settings.
type MemoryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
}

// DefaultPlannerSystemPrompt instructs the model to answer with subtasks as JSON.
const DefaultPlannerSystemPrompt = "Decompose NL command into Git subtasks. Respond JSON {'subtasks': [...] }."

// LoadConfig reads configuration from file or environment variables.
// An explicit configPath must exist; otherwise a missing config file falls
// back to defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. cache.generation.capacity becomes AXION_CACHE_GENERATION_CAPACITY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", internal.DefaultAppName)
	v.SetDefault("app.cache_dir", internal.DefaultCacheDir)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Generation defaults
	v.SetDefault("generation.backend", "local")
	v.SetDefault("generation.model_id", "local-echo")
	v.SetDefault("generation.model_path", "")
	v.SetDefault("generation.max_input_tokens", 512)
	v.SetDefault("generation.max_new_tokens", 256)
	v.SetDefault("generation.temperature", 0.3)
	v.SetDefault("generation.top_p", 0.9)
	v.SetDefault("generation.context_size", 2048)
	v.SetDefault("generation.threads", 4)
	v.SetDefault("generation.gpu_layers", 0)
	v.SetDefault("generation.request_timeout", "120s")

	// Embedding defaults (all-MiniLM-L6-v2 shape)
	v.SetDefault("embedding.backend", "local")
	v.SetDefault("embedding.model_id", "local-hash-384")
	v.SetDefault("embedding.model_path", "")
	v.SetDefault("embedding.dims", 384)
	v.SetDefault("embedding.normalize", true)
	v.SetDefault("embedding.context_size", 512)
	v.SetDefault("embedding.threads", 4)
	v.SetDefault("embedding.gpu_layers", 0)
	v.SetDefault("embedding.request_timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.generation.capacity", 100)
	v.SetDefault("cache.generation.ttl_seconds", 0)
	v.SetDefault("cache.generation.persist", true)
	v.SetDefault("cache.embedding.capacity", 1000)
	v.SetDefault("cache.embedding.ttl_seconds", 0)
	v.SetDefault("cache.embedding.persist", true)
	v.SetDefault("cache.planner.capacity", 100)
	v.SetDefault("cache.planner.ttl_seconds", 3600) // 1 hour
	v.SetDefault("cache.planner.persist", false)
	v.SetDefault("cache.debug.capacity", 100)
	v.SetDefault("cache.debug.ttl_seconds", 3600)
	v.SetDefault("cache.debug.persist", false)

	// Persistence defaults
	v.SetDefault("persistence.backend", internal.DefaultSnapshotBackend)
	v.SetDefault("persistence.dir", internal.DefaultSnapshotDir)
	v.SetDefault("persistence.database_path", internal.DefaultDatabaseDSN)
	v.SetDefault("persistence.flush_every_inserts", 10)
	v.SetDefault("persistence.flush_interval", "30s")
	v.SetDefault("persistence.atomic_writes", true)
	v.SetDefault("persistence.compress", true)
	v.SetDefault("persistence.compression_level", 0)

	v.SetDefault("offload.workers", 2)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.capacity", 10)
	v.SetDefault("rate_limit.refill_rate", "1s")

	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "60s")

	v.SetDefault("agents.planner_system_prompt", DefaultPlannerSystemPrompt)

	v.SetDefault("memory.default_limit", 5)
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case "none", "file", "sqlite", "libsql":
	default:
		return fmt.Errorf("persistence backend must be one of none, file, sqlite, libsql, got %q", c.Persistence.Backend)
	}

	for name, b := range map[string]string{"generation": c.Generation.Backend, "embedding": c.Embedding.Backend} {
		if b != "local" && b != "llama" {
			return fmt.Errorf("%s backend must be local or llama, got %q", name, b)
		}
	}

	if c.Offload.Workers <= 0 {
		return fmt.Errorf("offload workers must be positive, got %d", c.Offload.Workers)
	}
	if c.Embedding.Dims <= 0 {
		return fmt.Errorf("embedding dims must be positive, got %d", c.Embedding.Dims)
	}
	if c.Persistence.FlushEveryInserts < 0 {
		return fmt.Errorf("flush_every_inserts cannot be negative, got %d", c.Persistence.FlushEveryInserts)
	}

	for name, s := range map[string]StoreConfig{
		"generation": c.Cache.Generation,
		"embedding":  c.Cache.Embedding,
		"planner":    c.Cache.Planner,
		"debug":      c.Cache.Debug,
	} {
		if s.Capacity < 0 {
			return fmt.Errorf("cache.%s.capacity cannot be negative, got %d", name, s.Capacity)
		}
		if s.TTLSeconds < 0 {
			return fmt.Errorf("cache.%s.ttl_seconds cannot be negative, got %d", name, s.TTLSeconds)
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.Capacity <= 0 || c.RateLimit.RefillRate <= 0) {
		return fmt.Errorf("rate limit capacity and refill_rate must be positive when enabled")
	}
	return nil
}
