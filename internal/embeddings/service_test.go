package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/retry"
)

func TestUninitializedService(t *testing.T) {
	var s *Service
	_, err := s.GenerateEmbedding(context.Background(), "hello", "")
	assert.Error(t, err)
}

// embeddingServer answers every input with [len(text), index]
func embeddingServer(t *testing.T, calls *int32, failFirst bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if failFirst && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, len(req.Input))
		for i, in := range req.Input {
			data[i] = map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(in)), float64(i)},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]interface{}{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func newTestService(t *testing.T, url string, cache EmbeddingCache) *Service {
	r := retry.New(retry.Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
		MaxRetries:      2,
	}, nil, zaptest.NewLogger(t))
	return NewService(Config{APIKey: "test", BaseURL: url + "/"}, cache, r, zaptest.NewLogger(t))
}

func TestGenerateEmbeddingUsesLRU(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, &calls, false)
	defer srv.Close()
	s := newTestService(t, srv.URL, nil)

	v1, err := s.GenerateEmbedding(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0}, v1)

	v2, err := s.GenerateEmbedding(context.Background(), "hello", "")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBatchPreservesOrderAndSkipsCached(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, &calls, false)
	defer srv.Close()
	s := newTestService(t, srv.URL, nil)
	ctx := context.Background()

	_, err := s.GenerateEmbedding(ctx, "bb", "")
	require.NoError(t, err)

	out, err := s.GenerateBatchEmbeddings(ctx, []string{"a", "bb", "cccc"}, "")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, float32(4), out[2][0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, &calls, true)
	defer srv.Close()
	s := newTestService(t, srv.URL, nil)

	v, err := s.GenerateEmbedding(context.Background(), "abc", "")
	require.NoError(t, err)
	assert.Equal(t, float32(3), v[0])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRedisCacheSharedAcrossServices(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewRedisCache(client, zaptest.NewLogger(t))

	var calls int32
	srv := embeddingServer(t, &calls, false)
	defer srv.Close()

	_, err := newTestService(t, srv.URL, cache).GenerateEmbedding(context.Background(), "shared", "")
	require.NoError(t, err)

	v, err := newTestService(t, srv.URL, cache).GenerateEmbedding(context.Background(), "shared", "")
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 0}, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	l := NewLocalLRU(2)
	ctx := context.Background()
	l.Set(ctx, "a", []float32{1}, time.Minute)
	l.Set(ctx, "b", []float32{2}, time.Minute)
	l.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := l.Get(ctx, "a")
	assert.False(t, ok)
	v, ok := l.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, []float32{3}, v)
}

func TestMakeKeyDependsOnModel(t *testing.T) {
	assert.NotEqual(t, MakeKey("m1", "x"), MakeKey("m2", "x"))
	assert.Equal(t, MakeKey("m1", "x"), MakeKey("m1", "x"))
}

func TestLocalLRUExpiry(t *testing.T) {
	l := NewLocalLRU(4)
	ctx := context.Background()
	l.Set(ctx, "gone", []float32{1}, -time.Second)
	l.Set(ctx, "kept", []float32{2}, time.Minute)

	_, ok := l.Get(ctx, "gone")
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())

	l.Set(ctx, "kept", []float32{5}, time.Minute)
	v, ok := l.Get(ctx, "kept")
	assert.True(t, ok)
	assert.Equal(t, []float32{5}, v)
	assert.Equal(t, 1, l.Len())
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0.25, -1.5, 3e-7}
	out, ok := decodeVector(encodeVector(in))
	require.True(t, ok)
	assert.Equal(t, in, out)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
	_, ok = decodeVector(nil)
	assert.False(t, ok)
}
