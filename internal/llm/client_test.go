package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/retry"
)

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]interface{}{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func fastRetrier(t *testing.T) *retry.Retrier {
	return retry.New(retry.Policy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
		MaxRetries:      2,
	}, nil, zaptest.NewLogger(t))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	return NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/"}, fastRetrier(t), zaptest.NewLogger(t))
}

func TestCompleteSendsMessagesInOrder(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("Revenue was $12,000.")))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).Complete(context.Background(), Request{
		SystemPrompt: "system",
		History: []models.ConversationEntry{
			{Role: models.RoleUser, Content: "earlier question"},
			{Role: models.RoleAssistant, Content: "earlier answer"},
		},
		UserMessage: "what was revenue?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Revenue was $12,000.", out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "what was revenue?", got.Messages[3].Content)
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv).Complete(context.Background(), Request{UserMessage: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), Request{UserMessage: "hi"})
	require.Error(t, err)
	var ce *CompletionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompleteEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("   ")))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Complete(context.Background(), Request{UserMessage: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestCompletionErrorTemporary(t *testing.T) {
	assert.True(t, (&CompletionError{StatusCode: 429}).Temporary())
	assert.True(t, (&CompletionError{StatusCode: 503}).Temporary())
	assert.False(t, (&CompletionError{StatusCode: 401}).Temporary())
	assert.False(t, (&CompletionError{Err: errors.New("dial refused")}).Temporary())
}
