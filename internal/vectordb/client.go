package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	ometrics "github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
)

// ErrCollectionRequired is returned when an agent has no collection configured
var ErrCollectionRequired = errors.New("vectordb: collection name required")

// Client is a minimal Qdrant HTTP client
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a client. Requests go through a circuit breaker.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := cfg
	if c.Port == 0 {
		c.Port = 6333
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(c.URL, "/")
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
	httpClient := &http.Client{Timeout: c.Timeout}
	return &Client{
		cfg:   c,
		base:  base,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", "vectordb", logger),
		log:   logger,
	}
}

// GetConfig returns the effective configuration
func (c *Client) GetConfig() Config { return c.cfg }

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query       []float32 `json:"query"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      Filter    `json:"filter,omitempty"`
}

type qdrantSearchResponse struct {
	Result []Point `json:"result"`
	Status string  `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []Point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

type qdrantScrollRequest struct {
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
	WithVector  bool        `json:"with_vector"`
	Filter      Filter      `json:"filter,omitempty"`
	Offset      interface{} `json:"offset,omitempty"`
}

type qdrantScrollResponse struct {
	Result struct {
		Points         []Point     `json:"points"`
		NextPageOffset interface{} `json:"next_page_offset"`
	} `json:"result"`
	Status string `json:"status"`
}

func (c *Client) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	tracing.InjectTraceparent(ctx, req)
	return c.httpw.Do(req)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("qdrant %s status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

// Search returns the limit nearest points in collection with payloads
func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Point, error) {
	if collection == "" {
		return nil, ErrCollectionRequired
	}
	if limit <= 0 {
		limit = c.cfg.TopK
	}
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	// Prefer modern /points/query; fall back to /points/search for older servers
	resp, err := c.post(ctx, urlQuery, qdrantQueryRequest{Query: vector, Limit: limit, WithPayload: true})
	if err != nil {
		ometrics.RecordVectorMetrics("search", collection, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, collection)
		legacy := map[string]interface{}{"vector": vector, "limit": limit, "with_payload": true}
		resp2, err2 := c.post(ctx, urlSearch, legacy)
		if err2 != nil {
			ometrics.RecordVectorMetrics("search", collection, "error", time.Since(start).Seconds())
			tracing.RecordError(span, err2)
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			ometrics.RecordVectorMetrics("search", collection, "error", time.Since(start).Seconds())
			return nil, statusError("search", resp2)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			ometrics.RecordVectorMetrics("search", collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to decode search response: %w", err)
		}
		ometrics.RecordVectorMetrics("search", collection, "ok", time.Since(start).Seconds())
		return sr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		ometrics.RecordVectorMetrics("search", collection, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	ometrics.RecordVectorMetrics("search", collection, "ok", time.Since(start).Seconds())
	return qr.Result.Points, nil
}

// Scroll pages through collection payloads until limit points are read or
// the collection is exhausted. Vectors are never requested.
func (c *Client) Scroll(ctx context.Context, collection string, filter Filter, limit int) ([]Point, error) {
	if collection == "" {
		return nil, ErrCollectionRequired
	}
	if limit <= 0 {
		limit = 100
	}
	start := time.Now()

	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	points := make([]Point, 0, limit)
	var offset interface{}
	for len(points) < limit {
		req := qdrantScrollRequest{
			Limit:       limit - len(points),
			WithPayload: true,
			Filter:      filter,
			Offset:      offset,
		}
		resp, err := c.post(ctx, url, req)
		if err != nil {
			ometrics.RecordVectorMetrics("scroll", collection, "error", time.Since(start).Seconds())
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("qdrant scroll failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := statusError("scroll", resp)
			resp.Body.Close()
			ometrics.RecordVectorMetrics("scroll", collection, "error", time.Since(start).Seconds())
			return nil, err
		}
		var sr qdrantScrollResponse
		err = json.NewDecoder(resp.Body).Decode(&sr)
		resp.Body.Close()
		if err != nil {
			ometrics.RecordVectorMetrics("scroll", collection, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("failed to decode scroll response: %w", err)
		}
		points = append(points, sr.Result.Points...)
		if sr.Result.NextPageOffset == nil || len(sr.Result.Points) == 0 {
			break
		}
		offset = sr.Result.NextPageOffset
	}

	ometrics.RecordVectorMetrics("scroll", collection, "ok", time.Since(start).Seconds())
	return points, nil
}

// FetchPoints samples up to limit points from collection, payload only
func (c *Client) FetchPoints(ctx context.Context, collection string, limit int) ([]Point, error) {
	return c.Scroll(ctx, collection, nil, limit)
}

// GetCollectionInfo retrieves collection status and vector configuration
func (c *Client) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.base, collection)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("collection info", resp)
	}

	var result struct {
		Result struct {
			Status      string `json:"status"`
			PointsCount int64  `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &CollectionInfo{
		Name:        collection,
		Status:      result.Result.Status,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// ValidateEmbeddingDimensions checks each collection against ExpectedEmbeddingDim
func (c *Client) ValidateEmbeddingDimensions(ctx context.Context, collections ...string) error {
	expected := c.cfg.ExpectedEmbeddingDim
	if expected <= 0 {
		return nil
	}
	for _, collection := range collections {
		info, err := c.GetCollectionInfo(ctx, collection)
		if err != nil {
			c.log.Warn("Failed to get collection info during validation",
				zap.String("collection", collection),
				zap.Error(err))
			continue
		}
		if info.VectorSize != expected {
			return DimensionMismatchError{
				Collection:        collection,
				ExpectedDimension: expected,
				ReceivedDimension: info.VectorSize,
			}
		}
	}
	return nil
}

// Ping checks that the Qdrant API answers
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/collections", nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("ping", resp)
	}
	return nil
}

// IsCircuitBreakerOpen reports whether requests are currently rejected
func (c *Client) IsCircuitBreakerOpen() bool {
	return c.httpw.IsCircuitBreakerOpen()
}
