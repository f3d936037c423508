package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards a go-redis client with a circuit breaker.
// redis.Nil is a normal miss and never trips the breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper wraps client using the redis target settings
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	return NewRedisWrapperWithSettings(client, service, SettingsFor(TargetRedis), logger)
}

// NewRedisWrapperWithSettings wraps client with explicit breaker settings
func NewRedisWrapperWithSettings(client *redis.Client, service string, s Settings, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if service == "" {
		service = "redis-client"
	}
	cb := NewCircuitBreaker(TargetRedis, s.ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(TargetRedis, service, cb)
	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

// guard runs call through the breaker and records the outcome
func (rw *RedisWrapper) guard(ctx context.Context, call func() error) error {
	var callErr error
	err := rw.cb.Execute(ctx, func() error {
		callErr = call()
		if errors.Is(callErr, redis.Nil) {
			return nil
		}
		return callErr
	})
	GlobalMetricsCollector.RecordRequest(TargetRedis, rw.service, rw.cb.State(), err == nil)
	if err != nil {
		return err
	}
	return callErr
}

// Ping checks connectivity
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	}); err != nil && cmd.Err() == nil {
		cmd.SetErr(err)
	}
	return cmd
}

// Get reads a key; a missing key yields redis.Nil
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Get(ctx, key)
		return cmd.Err()
	}); err != nil && cmd.Err() == nil {
		cmd.SetErr(err)
	}
	return cmd
}

// Set writes a key with expiration
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Set(ctx, key, value, expiration)
		return cmd.Err()
	}); err != nil && cmd.Err() == nil {
		cmd.SetErr(err)
	}
	return cmd
}

// Expire refreshes a key's TTL
func (rw *RedisWrapper) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Expire(ctx, key, expiration)
		return cmd.Err()
	}); err != nil && cmd.Err() == nil {
		cmd.SetErr(err)
	}
	return cmd
}

// Del removes keys
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if err := rw.guard(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	}); err != nil && cmd.Err() == nil {
		cmd.SetErr(err)
	}
	return cmd
}

// Close closes the underlying client
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying client for health checks
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen reports whether calls are currently rejected
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
