// Package integration turns the per-agent responses of a query into one
// answer: filter irrelevant responses, resolve numeric conflicts, synthesize.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// Synthesis modes
const (
	ModeConcatenate = "concatenate"
	ModeRefine      = "refine"
)

// DefaultMultiAgentName is used in refined answers when the name is unknown
const DefaultMultiAgentName = "MultiAgent"

const contactSupport = "contact support"

var irrelevantPhrases = []string{
	"cannot provide",
	"no data",
	"not enough information",
	"unable to answer",
	"no relevant",
}

// Config controls filtering and synthesis
type Config struct {
	Mode string `mapstructure:"mode"`
	// MinResponseLength drops trimmed responses shorter than this
	MinResponseLength int `mapstructure:"min_response_length"`
	// ShortResponseLength is the length under which hedging phrases disqualify a response
	ShortResponseLength int     `mapstructure:"short_response_length"`
	Model               string  `mapstructure:"model"`
	Temperature         float64 `mapstructure:"temperature"`
	MaxTokens           int64   `mapstructure:"max_tokens"`
}

// DefaultConfig is deterministic concatenation
func DefaultConfig() Config {
	return Config{
		Mode:                ModeConcatenate,
		MinResponseLength:   50,
		ShortResponseLength: 100,
		Model:               "gpt-4o-mini",
		Temperature:         0.7,
		MaxTokens:           500,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MinResponseLength <= 0 {
		c.MinResponseLength = def.MinResponseLength
	}
	if c.ShortResponseLength <= 0 {
		c.ShortResponseLength = def.ShortResponseLength
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Temperature == 0 {
		c.Temperature = def.Temperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = def.MaxTokens
	}
	return c
}

// Query is what the integrator needs to know about the query being answered
type Query struct {
	Prompt         string
	MultiAgentName string
	// Context resolves agent confidences and optional metadata
	Context Lookuper
}

// Result is the integrated answer
type Result struct {
	SynthesizedResponse string
	IndividualResponses []models.AgentResponse
}

// Integrator filters, resolves and synthesizes agent responses
type Integrator struct {
	mu        sync.RWMutex
	cfg       Config
	resolver  *ConflictResolver
	completer llm.Completer
	logger    *zap.Logger
}

// NewIntegrator creates an integrator. completer is only used in refine mode
// and may be nil otherwise.
func NewIntegrator(cfg Config, resolver *ConflictResolver, completer llm.Completer, logger *zap.Logger) *Integrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = NewConflictResolver(logger)
	}
	return &Integrator{cfg: cfg.withDefaults(), resolver: resolver, completer: completer, logger: logger}
}

// UpdateConfig swaps the configuration for subsequent queries
func (i *Integrator) UpdateConfig(cfg Config) {
	cfg = cfg.withDefaults()
	i.mu.Lock()
	i.cfg = cfg
	i.mu.Unlock()
	i.logger.Info("Integrator configuration updated",
		zap.String("mode", cfg.Mode),
		zap.Int("min_response_length", cfg.MinResponseLength),
	)
}

// Config returns the active configuration
func (i *Integrator) Config() Config {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.cfg
}

// Integrate returns the synthesized answer and the unfiltered response list
func (i *Integrator) Integrate(ctx context.Context, responses []models.AgentResponse, q Query) Result {
	cfg := i.Config()

	relevant := make([]models.AgentResponse, 0, len(responses))
	for _, resp := range responses {
		if reason := filterReason(resp, cfg); reason != "" {
			metrics.ResponsesFiltered.WithLabelValues(reason).Inc()
			i.logger.Info("Filtered agent response",
				zap.Int64("agent_id", resp.AgentID),
				zap.String("agent_name", resp.AgentName),
				zap.String("reason", reason),
			)
			continue
		}
		relevant = append(relevant, resp)
	}

	resolved := i.resolver.Resolve(relevant, q.Context)

	var synthesized string
	switch {
	case len(resolved) == 0:
		i.logger.Warn("No relevant responses for prompt", zap.Int("responses", len(responses)))
		synthesized = models.NoRelevantResponses
		metrics.Syntheses.WithLabelValues(cfg.Mode, "empty").Inc()
	case cfg.Mode == ModeRefine:
		synthesized = i.refine(ctx, resolved, q, cfg)
	default:
		synthesized = Concatenate(resolved)
		metrics.Syntheses.WithLabelValues(ModeConcatenate, "ok").Inc()
	}

	return Result{SynthesizedResponse: synthesized, IndividualResponses: responses}
}

// IsRelevant reports whether resp should take part in synthesis
func IsRelevant(resp models.AgentResponse, cfg Config) bool {
	return filterReason(resp, cfg.withDefaults()) == ""
}

// filterReason returns why resp is excluded, or "" when it is relevant
func filterReason(resp models.AgentResponse, cfg Config) string {
	if resp.Failed() {
		return "error"
	}
	if resp.Response == nil || *resp.Response == "" || *resp.Response == models.NoResponseText {
		return "empty"
	}

	text := strings.TrimSpace(*resp.Response)
	length := len(text)
	if length < cfg.MinResponseLength {
		return "too_short"
	}

	lower := strings.ToLower(text)
	if strings.Contains(lower, contactSupport) {
		if float64(len(contactSupport))/float64(length) > 0.5 || length < cfg.ShortResponseLength {
			return "contact_support"
		}
	}
	if length < cfg.ShortResponseLength {
		for _, phrase := range irrelevantPhrases {
			if strings.Contains(lower, phrase) {
				return "irrelevant"
			}
		}
	}
	return ""
}

// Concatenate renders one "- **name**: text" line per response
func Concatenate(responses []models.AgentResponse) string {
	lines := make([]string, 0, len(responses))
	for _, r := range responses {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", r.AgentName, r.Text()))
	}
	return strings.Join(lines, "\n")
}

func (i *Integrator) refine(ctx context.Context, resolved []models.AgentResponse, q Query, cfg Config) string {
	combined := Concatenate(resolved)
	if i.completer == nil {
		i.logger.Warn("Refine mode without a completer, using concatenation")
		metrics.Syntheses.WithLabelValues(ModeRefine, "fallback").Inc()
		return combined
	}

	name := q.MultiAgentName
	if name == "" {
		name = DefaultMultiAgentName
	}

	refined, err := i.completer.Complete(ctx, llm.Request{
		SystemPrompt: refinePrompt(name, q, combined),
		UserMessage:  q.Prompt,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Model:        cfg.Model,
	})
	if err == nil && strings.TrimSpace(refined) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		i.logger.Error("Refining response failed, using concatenation", zap.Error(err))
		metrics.Syntheses.WithLabelValues(ModeRefine, "fallback").Inc()
		return combined
	}

	metrics.Syntheses.WithLabelValues(ModeRefine, "ok").Inc()
	return fmt.Sprintf("**%s**: %s", name, strings.TrimSpace(refined))
}

func refinePrompt(name string, q Query, combined string) string {
	summary := fmt.Sprintf("Available data includes responses from multiple agents, which may cover a wide range of topics or formats. The original query is: %q.", q.Prompt)

	additional := "No additional metadata provided."
	if q.Context != nil {
		if md := q.Context.Lookup("metadata", nil); md != nil {
			if b, err := json.Marshal(md); err == nil {
				additional = string(b)
			}
		}
	}

	return fmt.Sprintf("You are %s, a unified assistant. Refine the following response to be clear, concise, and intuitive, directly addressing the query: %q. "+
		"Prioritize detailed and structured content (e.g., lists, specific recommendations) relevant to the query, using available data: %s. "+
		"Additional context: %s. Remove redundancies and vague statements (e.g., 'contact support', 'more data needed') unless no specific details exist. "+
		"Structure the output appropriately (e.g., lists, paragraphs) and maintain a professional tone. If insufficient details are provided, explain briefly."+
		"\n\nCombined response:\n%s",
		name, q.Prompt, summary, additional, combined)
}
