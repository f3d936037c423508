package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	ometrics "github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
)

// ErrNoEmbedding is returned when the provider answers without vectors
var ErrNoEmbedding = errors.New("no embeddings returned")

// Service provides embedding generation with two cache levels:
// an in-process LRU, then an optional shared cache.
type Service struct {
	cfg     Config
	client  openai.Client
	cache   EmbeddingCache
	lru     *LocalLRU
	retrier *retry.Retrier
	logger  *zap.Logger
}

// NewService builds the service. cache may be nil.
func NewService(cfg Config, cache EmbeddingCache, retrier *retry.Retrier, logger *zap.Logger) *Service {
	c := cfg
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(c.Timeout),
	}
	if c.APIKey != "" {
		opts = append(opts, option.WithAPIKey(c.APIKey))
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}

	return &Service{
		cfg:     c,
		client:  openai.NewClient(opts...),
		cache:   cache,
		lru:     NewLocalLRU(c.MaxLRU),
		retrier: retrier,
		logger:  logger,
	}
}

// GetConfig returns the effective configuration
func (s *Service) GetConfig() Config {
	if s == nil {
		return Config{DefaultModel: DefaultModel}
	}
	return s.cfg
}

// GenerateEmbedding returns the vector for a single text
func (s *Service) GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	out, err := s.GenerateBatchEmbeddings(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateBatchEmbeddings embeds texts in one provider request, serving
// cached vectors where possible. Output order matches input order.
func (s *Service) GenerateBatchEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m := model
	if m == "" {
		m = s.cfg.DefaultModel
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				ometrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}
		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "embeddings.generate",
		attribute.String("embedding.model", m),
		attribute.Int("embedding.inputs", len(uncachedTexts)),
	)
	defer span.End()

	var vectors [][]float64
	err := s.retrier.Do(ctx, "embedding", func(ctx context.Context) error {
		resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: uncachedTexts},
			Model: openai.EmbeddingModel(m),
		})
		if err != nil {
			return classify(err)
		}
		vectors = make([][]float64, len(uncachedTexts))
		for _, d := range resp.Data {
			if int(d.Index) < len(vectors) {
				vectors[d.Index] = d.Embedding
			}
		}
		return nil
	})
	if err != nil {
		ometrics.RecordEmbeddingMetrics(m, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	for i, embedding := range vectors {
		if len(embedding) == 0 {
			ometrics.RecordEmbeddingMetrics(m, "empty", time.Since(start).Seconds())
			return nil, ErrNoEmbedding
		}
		out := make([]float32, len(embedding))
		for j, f := range embedding {
			out[j] = float32(f)
		}
		results[uncachedIndices[i]] = out

		key := MakeKey(m, uncachedTexts[i])
		s.lru.Set(ctx, key, out, lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
		}
	}

	ometrics.RecordEmbeddingMetrics(m, "ok", time.Since(start).Seconds())
	return results, nil
}

// providerError marks rate limits, 5xx responses and timeouts as retryable
type providerError struct {
	status int
	err    error
}

func (e *providerError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("embedding status %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *providerError) Unwrap() error { return e.err }

func (e *providerError) Temporary() bool {
	if e.status == http.StatusTooManyRequests || e.status >= 500 {
		return true
	}
	var ne net.Error
	return e.status == 0 && errors.As(e.err, &ne) && ne.Timeout()
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &providerError{status: apiErr.StatusCode, err: err}
	}
	return &providerError{err: err}
}
