package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// DefaultTTL is the sliding lifetime of a history entry
const DefaultTTL = 24 * time.Hour

// ErrHistoryUnavailable wraps cache failures so callers can degrade to an empty history
var ErrHistoryUnavailable = errors.New("conversation history unavailable")

// HistoryStore persists conversation history outside a single query
type HistoryStore interface {
	Load(ctx context.Context, key string) ([]models.ConversationEntry, error)
	Save(ctx context.Context, key string, entries []models.ConversationEntry) error
}

// MultiAgentHistoryKey is the shared history of a multi-agent in a session
func MultiAgentHistoryKey(multiAgentID int64, sessionID string) string {
	return fmt.Sprintf("multi_agent_history_%d_%s", multiAgentID, sessionID)
}

// AgentHistoryKey is one agent's own history in a session. It never
// collides with MultiAgentHistoryKey, even when the ids are equal.
func AgentHistoryKey(agentID int64, sessionID string) string {
	return fmt.Sprintf("chat_history_%d_%s", agentID, sessionID)
}

// Manager is a Redis-backed HistoryStore. Writes are last-writer-wins.
type Manager struct {
	client *circuitbreaker.RedisWrapper
	logger *zap.Logger
	ttl    time.Duration
}

// Options configures the Redis connection
type Options struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"history_ttl"`
}

// NewRedisClient opens a go-redis client and verifies connectivity
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewManager creates a history store over an existing client
func NewManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		client: circuitbreaker.NewRedisWrapper(client, "session-history", logger),
		logger: logger,
		ttl:    ttl,
	}
}

// Load returns the history stored under key. A missing key is an empty
// history, not an error. A successful read refreshes the TTL.
func (m *Manager) Load(ctx context.Context, key string) ([]models.ConversationEntry, error) {
	data, err := m.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.HistoryOperations.WithLabelValues("load", "miss").Inc()
		return []models.ConversationEntry{}, nil
	}
	if err != nil {
		metrics.HistoryOperations.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}

	var entries []models.ConversationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		metrics.HistoryOperations.WithLabelValues("load", "corrupt").Inc()
		m.logger.Warn("Discarding unreadable conversation history",
			zap.String("key", key),
			zap.Error(err),
		)
		return []models.ConversationEntry{}, nil
	}

	if err := m.client.Expire(ctx, key, m.ttl).Err(); err != nil {
		m.logger.Debug("Failed to refresh history TTL", zap.String("key", key), zap.Error(err))
	}
	metrics.HistoryOperations.WithLabelValues("load", "hit").Inc()
	return entries, nil
}

// Save overwrites the history under key and resets its TTL
func (m *Manager) Save(ctx context.Context, key string, entries []models.ConversationEntry) error {
	if entries == nil {
		entries = []models.ConversationEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		metrics.HistoryOperations.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	metrics.HistoryOperations.WithLabelValues("save", "ok").Inc()
	return nil
}

// Delete removes the history under key
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
	}
	return nil
}

// Ping reports cache reachability
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (m *Manager) Close() error {
	return m.client.Close()
}
