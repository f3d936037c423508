package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/db"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/jobs"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/joinkey"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/integration"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/strategies"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/rag"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/session"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

// DefaultPath is used when CONFIG_PATH is unset
const DefaultPath = "config/multiagent.yaml"

// LoggingConfig selects the zap preset
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" (production) or "console" (development)
	Format string `mapstructure:"format"`
}

// OrchestratorConfig bounds query execution
type OrchestratorConfig struct {
	AgentTimeout         time.Duration `mapstructure:"agent_timeout"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency"`
	UseRelations         bool          `mapstructure:"use_relations"`
}

// Strategies returns the strategy registry settings
func (o OrchestratorConfig) Strategies() strategies.Config {
	return strategies.Config{AgentTimeout: o.AgentTimeout, BroadcastConcurrency: o.BroadcastConcurrency}
}

// Orchestrator returns the orchestrator settings
func (o OrchestratorConfig) Orchestrator() multiagent.Config {
	return multiagent.Config{UseRelations: o.UseRelations}
}

// MetricsConfig controls the Prometheus endpoint on the admin server
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig controls the health endpoints
type HealthConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

// Config is the complete service configuration
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Redis        session.Options    `mapstructure:"redis"`
	Database     db.Config          `mapstructure:"database"`
	Qdrant       vectordb.Config    `mapstructure:"qdrant"`
	LLM          llm.Config         `mapstructure:"llm"`
	Embeddings   embeddings.Config  `mapstructure:"embeddings"`
	RAG          rag.Config         `mapstructure:"rag"`
	Retry        retry.Policy       `mapstructure:"retry"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Synthesis    integration.Config `mapstructure:"synthesis"`
	JoinKey      joinkey.Config     `mapstructure:"joinkey"`
	Jobs         jobs.Config        `mapstructure:"jobs"`
	Tracing      tracing.Config     `mapstructure:"tracing"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Health       HealthConfig       `mapstructure:"health"`
}

// Validate rejects settings the components cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Synthesis.Mode {
	case integration.ModeConcatenate, integration.ModeRefine:
	default:
		errs = append(errs, fmt.Errorf("synthesis.mode must be %q or %q, got %q",
			integration.ModeConcatenate, integration.ModeRefine, c.Synthesis.Mode))
	}
	switch c.Database.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q",
			db.DriverPostgres, db.DriverSQLite, c.Database.Driver))
	}
	if c.JoinKey.Threshold < 0 || c.JoinKey.Threshold > 1 {
		errs = append(errs, fmt.Errorf("joinkey.threshold must be within [0,1], got %v", c.JoinKey.Threshold))
	}
	if c.Orchestrator.AgentTimeout < 0 {
		errs = append(errs, errors.New("orchestrator.agent_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// PathFromEnv returns CONFIG_PATH or DefaultPath
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the configuration at PathFromEnv
func Load() (*Config, error) {
	return NewLoader(PathFromEnv()).Load()
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindLegacyEnv(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.history_ttl", session.DefaultTTL)

	v.SetDefault("database.driver", db.DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "multiagent")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "multiagent")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "multiagent.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("qdrant.url", "")
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6333)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.top_k", 5)
	v.SetDefault("qdrant.timeout", 10*time.Second)
	v.SetDefault("qdrant.expected_embedding_dim", 0)

	llmDef := llm.DefaultConfig()
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", llmDef.Model)
	v.SetDefault("llm.temperature", llmDef.Temperature)
	v.SetDefault("llm.max_tokens", llmDef.MaxTokens)
	v.SetDefault("llm.timeout", llmDef.Timeout)
	v.SetDefault("llm.requests_per_minute", 0)

	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")
	v.SetDefault("embeddings.model", embeddings.DefaultModel)
	v.SetDefault("embeddings.timeout", 30*time.Second)
	v.SetDefault("embeddings.enable_redis", true)
	v.SetDefault("embeddings.cache_ttl", 24*time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)

	ragDef := rag.DefaultConfig()
	v.SetDefault("rag.top_k", ragDef.TopK)
	v.SetDefault("rag.embedding_model", ragDef.EmbeddingModel)
	v.SetDefault("rag.model", ragDef.Model)
	v.SetDefault("rag.temperature", ragDef.Temperature)
	v.SetDefault("rag.max_tokens", ragDef.MaxTokens)

	rp := retry.DefaultPolicy()
	v.SetDefault("retry.initial_interval", rp.InitialInterval)
	v.SetDefault("retry.max_interval", rp.MaxInterval)
	v.SetDefault("retry.multiplier", rp.Multiplier)
	v.SetDefault("retry.randomization_factor", rp.RandomizationFactor)
	v.SetDefault("retry.max_elapsed_time", rp.MaxElapsedTime)
	v.SetDefault("retry.max_retries", rp.MaxRetries)

	sd := strategies.DefaultConfig()
	v.SetDefault("orchestrator.agent_timeout", sd.AgentTimeout)
	v.SetDefault("orchestrator.broadcast_concurrency", sd.BroadcastConcurrency)
	v.SetDefault("orchestrator.use_relations", false)

	id := integration.DefaultConfig()
	v.SetDefault("synthesis.mode", id.Mode)
	v.SetDefault("synthesis.min_response_length", id.MinResponseLength)
	v.SetDefault("synthesis.short_response_length", id.ShortResponseLength)
	v.SetDefault("synthesis.model", id.Model)
	v.SetDefault("synthesis.temperature", id.Temperature)
	v.SetDefault("synthesis.max_tokens", id.MaxTokens)

	jk := joinkey.DefaultConfig()
	v.SetDefault("joinkey.sample_size", jk.SampleSize)
	v.SetDefault("joinkey.threshold", jk.Threshold)

	jd := jobs.DefaultConfig()
	v.SetDefault("jobs.stream", jd.Stream)
	v.SetDefault("jobs.group", jd.Group)
	v.SetDefault("jobs.block", jd.Block)
	v.SetDefault("jobs.count", jd.Count)
	v.SetDefault("jobs.max_attempts", jd.MaxAttempts)
	v.SetDefault("jobs.max_len", jd.MaxLen)
	v.SetDefault("jobs.claim_idle", jd.ClaimIdle)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "multiagent")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.check_timeout", 5*time.Second)
}

// bindLegacyEnv keeps the deployment env names that predate the nested keys
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("logging.level", "LOGGING_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER", "DB_DRIVER")
	_ = v.BindEnv("database.host", "DATABASE_HOST", "POSTGRES_HOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT", "POSTGRES_PORT")
	_ = v.BindEnv("database.user", "DATABASE_USER", "POSTGRES_USER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.database", "DATABASE_DATABASE", "POSTGRES_DB")
	_ = v.BindEnv("database.sslmode", "DATABASE_SSLMODE", "POSTGRES_SSLMODE")
	_ = v.BindEnv("database.path", "DATABASE_PATH", "SQLITE_PATH")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embeddings.api_key", "EMBEDDINGS_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("qdrant.url", "QDRANT_URL")
	_ = v.BindEnv("tracing.otlp_endpoint", "TRACING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}
