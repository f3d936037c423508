package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/retry"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
)

// Client is a Completer backed by the OpenAI Chat Completions API
type Client struct {
	client  openai.Client
	cfg     Config
	limiter *rate.Limiter
	retrier *retry.Retrier
	logger  *zap.Logger
}

// NewClient builds a completer. SDK-level retries are disabled; retrier owns
// the backoff policy.
func NewClient(cfg Config, retrier *retry.Retrier, logger *zap.Logger) *Client {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		burst = cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		client:  openai.NewClient(opts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		retrier: retrier,
		logger:  logger,
	}
}

// Complete sends system prompt, history and user message, returning the
// first choice's text. ErrEmptyCompletion is distinct from provider failures.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	ctx, span := tracing.StartSpan(ctx, "llm.complete", attribute.String("llm.model", model))
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            buildMessages(req),
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	start := time.Now()
	var text string
	err := c.retrier.Do(ctx, "chat_completion", func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return classify(err)
		}
		text = ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
		return nil
	})
	if err != nil {
		metrics.RecordCompletionMetrics(model, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		metrics.RecordCompletionMetrics(model, "empty", time.Since(start).Seconds())
		return "", ErrEmptyCompletion
	}
	metrics.RecordCompletionMetrics(model, "ok", time.Since(start).Seconds())
	return text, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, h := range req.History {
		switch h.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(h.Content))
		default:
			messages = append(messages, openai.UserMessage(h.Content))
		}
	}
	return append(messages, openai.UserMessage(req.UserMessage))
}

// classify converts SDK errors into *CompletionError; context errors pass through
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &CompletionError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return &CompletionError{Err: err}
}
