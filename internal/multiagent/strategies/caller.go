package strategies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/rag"
)

// agentCaller runs one RAG call under the per-agent deadline and converts
// any failure, panics included, into an error response.
type agentCaller struct {
	answerer rag.Answerer
	timeout  time.Duration
	logger   *zap.Logger
}

func (c *agentCaller) call(ctx context.Context, kind Kind, agent models.Agent, prompt string, history []models.ConversationEntry) (resp models.AgentResponse) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = c.fail(kind, agent, fmt.Errorf("agent call panicked: %v", r))
		}
		status := "ok"
		if resp.Failed() {
			status = "error"
		}
		metrics.RecordAgentCall(string(kind), status, time.Since(start).Seconds())
	}()

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	answer, err := c.answerer.Chat(callCtx, agent, prompt, history)
	if err != nil {
		return c.fail(kind, agent, err)
	}

	text := ""
	if answer != nil {
		text = answer.Response
	}
	if strings.TrimSpace(text) == "" {
		text = models.NoResponseText
	}
	return models.NewSuccessResponse(agent, text, answer.Payload())
}

func (c *agentCaller) fail(kind Kind, agent models.Agent, err error) models.AgentResponse {
	c.logger.Error("Error querying agent",
		zap.String("strategy", string(kind)),
		zap.Int64("agent_id", agent.ID),
		zap.String("agent_name", agent.Name),
		zap.Error(err),
	)
	return models.NewErrorResponse(agent, err)
}
