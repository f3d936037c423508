package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
)

const keyPrefix = "multiagent:emb:"

// EmbeddingCache stores query vectors keyed by MakeKey
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// LocalLRU keeps the most recently used vectors in process memory
type LocalLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recent
	index    map[string]*list.Element
}

type cachedVector struct {
	key     string
	vector  []float32
	expires time.Time
}

// NewLocalLRU creates an LRU holding at most capacity vectors
func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (l *LocalLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.index[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cachedVector)
	if time.Now().After(entry.expires) {
		l.remove(el)
		return nil, false
	}
	l.order.MoveToFront(el)
	return entry.vector, true
}

func (l *LocalLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expires := time.Now().Add(ttl)
	if el, ok := l.index[key]; ok {
		entry := el.Value.(*cachedVector)
		entry.vector, entry.expires = v, expires
		l.order.MoveToFront(el)
		return
	}
	l.index[key] = l.order.PushFront(&cachedVector{key: key, vector: v, expires: expires})
	for l.order.Len() > l.capacity {
		l.remove(l.order.Back())
	}
}

// Len reports the number of cached vectors, expired ones included
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

func (l *LocalLRU) remove(el *list.Element) {
	delete(l.index, el.Value.(*cachedVector).key)
	l.order.Remove(el)
}

// RedisCache stores vectors in Redis behind the circuit breaker.
// Failures degrade to cache misses.
type RedisCache struct {
	cli    *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		cli:    circuitbreaker.NewRedisWrapper(client, "embedding-cache", logger),
		logger: logger,
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Debug("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return decodeVector(b)
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	if err := r.cli.Set(ctx, key, encodeVector(v), ttl).Err(); err != nil {
		r.logger.Debug("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// encodeVector packs v as little-endian float32 values
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}

// MakeKey derives the cache key for a model and text
func MakeKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(h[:16])
}
