package strategies

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
)

// Broadcast sends the identical prompt to every agent concurrently, each
// reading the shared history. Context writes go through the manager lock.
type Broadcast struct {
	caller      *agentCaller
	concurrency int
}

func (b *Broadcast) Kind() Kind { return KindBroadcast }

func (b *Broadcast) Execute(ctx context.Context, agents []models.Agent, prompt string, mgr *contextmgr.Manager) []models.AgentResponse {
	mgr.AddUserPrompt(ctx, prompt)

	responses := make([]models.AgentResponse, len(agents))
	// plain Group: one agent's failure must not cancel its siblings
	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}
	for i, agent := range agents {
		g.Go(func() error {
			history := mgr.History()
			resp := b.caller.call(ctx, KindBroadcast, agent, prompt, history)
			if !resp.Failed() {
				mgr.UpdateFromAgent(ctx, agent.ID, resp)
			}
			responses[i] = resp
			return nil
		})
	}
	_ = g.Wait()
	return responses
}
