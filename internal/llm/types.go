package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// ErrEmptyCompletion is returned when the provider answered but produced no text
var ErrEmptyCompletion = errors.New("completion returned no text")

// Request is one chat completion call
type Request struct {
	SystemPrompt string
	History      []models.ConversationEntry
	UserMessage  string
	Temperature  float64
	MaxTokens    int64
	// Model overrides Config.Model when set
	Model string
}

// Completer is the chat-completion collaborator
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompletionError is a failed provider call. StatusCode is 0 for transport errors.
type CompletionError struct {
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Temporary reports whether the call may succeed on retry
func (e *CompletionError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		var ne net.Error
		return errors.As(e.Err, &ne) && ne.Timeout()
	}
	return false
}

// Config controls the OpenAI-backed completer
type Config struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// RequestsPerMinute caps outbound calls; 0 means unlimited
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// DefaultConfig mirrors the parameters agents are queried with
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   500,
		Timeout:     60 * time.Second,
	}
}
