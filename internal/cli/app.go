package cli

import (
	"context"
	"fmt"
	"strings"

	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/config"
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

// app owns the configuration and lazily built clients for one command run
type app struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger

	dbClient   *db.Client
	cache      *redisv8.Client
	cacheW     *circuitbreaker.RedisWrapper
	streams    *redisv9.Client
	vectors    *vectordb.Client
	completer  *llm.Client
	integrator *integration.Integrator

	closers []func()
}

func newApp(configPath, logLevel string) (*app, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	loader.WithLogger(logger)

	a := &app{cfg: cfg, loader: loader, logger: logger}
	shutdown, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	} else {
		a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })
	}
	return a, nil
}

// newLogger picks the production (JSON) or development (console) preset
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	var zc zap.Config
	if cfg.Format == "console" || level == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) database(ctx context.Context) (*db.Client, error) {
	if a.dbClient != nil {
		return a.dbClient, nil
	}
	dbCfg := a.cfg.Database
	c, err := db.NewClient(ctx, &dbCfg, a.logger)
	if err != nil {
		return nil, err
	}
	if dbCfg.AutoMigrate {
		if err := c.Migrate(db.MigrateUp, 0); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	a.dbClient = c
	a.closers = append(a.closers, func() { _ = c.Close() })
	return c, nil
}

// redisCache is the go-redis v8 client used for history and embeddings
func (a *app) redisCache(ctx context.Context) (*redisv8.Client, *circuitbreaker.RedisWrapper, error) {
	if a.cache != nil {
		return a.cache, a.cacheW, nil
	}
	c, err := session.NewRedisClient(ctx, a.cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	a.cache = c
	a.cacheW = circuitbreaker.NewRedisWrapper(c, "redis-cache", a.logger)
	a.closers = append(a.closers, func() { _ = c.Close() })
	return c, a.cacheW, nil
}

// redisStreams is the go-redis v9 client behind the job queue
func (a *app) redisStreams(ctx context.Context) (*redisv9.Client, error) {
	if a.streams != nil {
		return a.streams, nil
	}
	c := redisv9.NewClient(&redisv9.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	a.streams = c
	a.closers = append(a.closers, func() { _ = c.Close() })
	return c, nil
}

func (a *app) vectorClient() *vectordb.Client {
	if a.vectors == nil {
		a.vectors = vectordb.NewClient(a.cfg.Qdrant, a.logger)
	}
	return a.vectors
}

func (a *app) retrier() *retry.Retrier {
	return retry.New(a.cfg.Retry, nil, a.logger)
}

func (a *app) llmClient() *llm.Client {
	if a.completer == nil {
		a.completer = llm.NewClient(a.cfg.LLM, a.retrier(), a.logger)
	}
	return a.completer
}

func (a *app) answerer(ctx context.Context) *rag.Service {
	var cache embeddings.EmbeddingCache
	if a.cfg.Embeddings.EnableRedis {
		c, _, err := a.redisCache(ctx)
		if err != nil {
			a.logger.Warn("Embedding Redis cache unavailable, using in-process cache only", zap.Error(err))
		} else {
			cache = embeddings.NewRedisCache(c, a.logger)
		}
	}
	embedder := embeddings.NewService(a.cfg.Embeddings, cache, a.retrier(), a.logger)
	return rag.NewService(a.cfg.RAG, embedder, a.vectorClient(), a.llmClient(), a.logger)
}

func (a *app) synthesis() *integration.Integrator {
	if a.integrator == nil {
		a.integrator = integration.NewIntegrator(a.cfg.Synthesis,
			integration.NewConflictResolver(a.logger), a.llmClient(), a.logger)
	}
	return a.integrator
}

func (a *app) orchestrator(ctx context.Context) (*multiagent.Orchestrator, error) {
	store, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	answerer := a.answerer(ctx)

	var history session.HistoryStore
	if c, _, err := a.redisCache(ctx); err != nil {
		a.logger.Warn("Conversation history disabled", zap.Error(err))
	} else {
		history = session.NewManager(c, a.cfg.Redis.TTL, a.logger)
	}

	registry := strategies.NewRegistry(answerer, a.cfg.Orchestrator.Strategies(), a.logger)
	return multiagent.NewOrchestrator(a.cfg.Orchestrator.Orchestrator(), store, history,
		registry, a.synthesis(), a.logger), nil
}

func (a *app) detector(ctx context.Context) (*joinkey.Detector, error) {
	store, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return joinkey.NewDetector(a.cfg.JoinKey, store, a.vectorClient(), store, a.logger), nil
}

func (a *app) creator(ctx context.Context) (*multiagent.Creator, error) {
	store, err := a.database(ctx)
	if err != nil {
		return nil, err
	}
	return multiagent.NewCreator(store, a.logger), nil
}

func (a *app) queue(ctx context.Context) (*jobs.Queue, error) {
	c, err := a.redisStreams(ctx)
	if err != nil {
		return nil, err
	}
	return jobs.NewQueue(c, a.cfg.Jobs), nil
}
