package strategies

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
)

// previousContextHeader separates the user prompt from the context dump
const previousContextHeader = "\n\nPrevious context:\n"

// Chained queries agents in order. Before each agent the whole context
// accumulated so far is appended to the prompt, so later agents can use
// values (ids, references) produced by earlier ones.
type Chained struct {
	caller *agentCaller
}

func (c *Chained) Kind() Kind { return KindChained }

func (c *Chained) Execute(ctx context.Context, agents []models.Agent, prompt string, mgr *contextmgr.Manager) []models.AgentResponse {
	mgr.AddUserPrompt(ctx, prompt)

	responses := make([]models.AgentResponse, 0, len(agents))
	for _, agent := range agents {
		history := mgr.History()
		resp := c.caller.call(ctx, KindChained, agent, AugmentPrompt(prompt, mgr), history)
		// failures are recorded too so later agents can see them
		mgr.UpdateFromAgent(ctx, agent.ID, resp)
		responses = append(responses, resp)
	}
	return responses
}

// AugmentPrompt appends the pretty-printed context to prompt
func AugmentPrompt(prompt string, mgr *contextmgr.Manager) string {
	if mgr.Empty() {
		return prompt
	}
	return prompt + previousContextHeader + mgr.Dump()
}
