// Package rag answers a prompt from one agent's document collection.
package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

const systemPromptTemplate = `You are an AI assistant specialized in answering questions based on user-uploaded data. Use the following context to provide accurate responses.
Context: {context}
Answer the question based on the context provided. If the context doesn't contain relevant information, say so clearly.`

// Answerer is what strategies call per agent
type Answerer interface {
	Chat(ctx context.Context, agent models.Agent, prompt string, history []models.ConversationEntry) (*models.RAGAnswer, error)
}

// Embedder turns the prompt into a query vector
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string, model string) ([]float32, error)
}

// Searcher finds the nearest points in a collection
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]vectordb.Point, error)
}

// Config tunes retrieval and generation
type Config struct {
	TopK           int     `mapstructure:"top_k"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int64   `mapstructure:"max_tokens"`
}

// DefaultConfig matches the parameters used when agents were ingested
func DefaultConfig() Config {
	return Config{
		TopK:           5,
		EmbeddingModel: "text-embedding-3-small",
		Model:          "gpt-4o-mini",
		Temperature:    0.7,
		MaxTokens:      500,
	}
}

// Service implements Answerer with embed, search, complete
type Service struct {
	cfg       Config
	embedder  Embedder
	searcher  Searcher
	completer llm.Completer
	logger    *zap.Logger
}

// NewService wires the three collaborators
func NewService(cfg Config, embedder Embedder, searcher Searcher, completer llm.Completer, logger *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, embedder: embedder, searcher: searcher, completer: completer, logger: logger}
}

// Chat retrieves context from the agent's collection and asks the model.
// Confidence is the best retrieval score clamped to [0,1].
func (s *Service) Chat(ctx context.Context, agent models.Agent, prompt string, history []models.ConversationEntry) (*models.RAGAnswer, error) {
	ctx, span := tracing.StartSpan(ctx, "rag.chat",
		attribute.Int64("agent.id", agent.ID),
		attribute.String("agent.collection", agent.VectorCollection),
	)
	defer span.End()

	vector, err := s.embedder.GenerateEmbedding(ctx, prompt, s.cfg.EmbeddingModel)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	points, err := s.searcher.Search(ctx, agent.VectorCollection, vector, s.cfg.TopK)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	payloads := make([]map[string]interface{}, 0, len(points))
	best := 0.0
	for _, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]interface{}{}
		}
		payloads = append(payloads, payload)
		if p.Score > best {
			best = p.Score
		}
	}

	systemPrompt, err := BuildSystemPrompt(payloads)
	if err != nil {
		return nil, err
	}

	text, err := s.completer.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		History:      history,
		UserMessage:  prompt,
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
		Model:        s.cfg.Model,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		// an empty answer is still an answer; callers substitute the sentinel text
		text, err = "", nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	s.logger.Debug("Agent answered",
		zap.Int64("agent_id", agent.ID),
		zap.Int("context_points", len(points)),
		zap.Float64("confidence", clamp01(best)),
	)

	return &models.RAGAnswer{
		Response:   text,
		Context:    payloads,
		Confidence: clamp01(best),
	}, nil
}

// BuildSystemPrompt embeds the retrieved payloads as JSON into the system prompt
func BuildSystemPrompt(payloads []map[string]interface{}) (string, error) {
	if payloads == nil {
		payloads = []map[string]interface{}{}
	}
	raw, err := json.Marshal(payloads)
	if err != nil {
		return "", fmt.Errorf("failed to encode context: %w", err)
	}
	return strings.Replace(systemPromptTemplate, "{context}", string(raw), 1), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
