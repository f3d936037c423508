package embeddings

import (
	"context"
	"time"
)

// Embedder turns text into a vector
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
}

// Config controls the embedding service behavior
type Config struct {
	// APIKey and BaseURL address the OpenAI-compatible /embeddings endpoint
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// DefaultModel is the default embedding model (e.g., text-embedding-3-small)
	DefaultModel string `mapstructure:"model"`
	// Timeout for outbound HTTP calls
	Timeout time.Duration `mapstructure:"timeout"`
	// EnableRedis enables the Redis-backed second cache level
	EnableRedis bool `mapstructure:"enable_redis"`
	// CacheTTL sets TTL for Redis cache entries
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// MaxLRU controls in-process LRU size
	MaxLRU int `mapstructure:"max_lru"`
}

// DefaultModel matches the vectors stored in agent collections
const DefaultModel = "text-embedding-3-small"

const lruTTL = 30 * time.Minute
