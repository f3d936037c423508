package strategies

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
)

// Direct queries agents one at a time with the unmodified prompt. Each agent
// sees only its own conversation history.
type Direct struct {
	caller *agentCaller
}

func (d *Direct) Kind() Kind { return KindDirect }

func (d *Direct) Execute(ctx context.Context, agents []models.Agent, prompt string, mgr *contextmgr.Manager) []models.AgentResponse {
	mgr.AddUserPrompt(ctx, prompt)

	responses := make([]models.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		history := mgr.AgentHistory(ctx, agent.ID)
		resp := d.caller.call(ctx, KindDirect, agent, prompt, history)
		if !resp.Failed() {
			mgr.UpdateFromAgent(ctx, agent.ID, resp)
			mgr.AppendAgentHistory(ctx, agent.ID, prompt, resp.Text())
		}
		responses = append(responses, resp)
	}
	return responses
}
