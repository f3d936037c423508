// Package strategies fans one prompt out to the agents of a multi-agent.
//
// Three strategies exist and are addressed by Kind through a Registry:
// Direct (sequential, per-agent history), Broadcast (concurrent, shared
// history) and Chained (sequential, each agent sees the context written by
// the agents before it). A failing agent never aborts the others; it becomes
// an error AgentResponse.
package strategies

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/rag"
)

// Kind names a communication strategy
type Kind string

const (
	KindDirect    Kind = "direct"
	KindBroadcast Kind = "broadcast"
	KindChained   Kind = "chained"
)

// KindAuto is the hint value that defers to Select
const KindAuto Kind = "auto"

// Strategy queries every agent and returns one response per agent, in agent order
type Strategy interface {
	Execute(ctx context.Context, agents []models.Agent, prompt string, mgr *contextmgr.Manager) []models.AgentResponse
	Kind() Kind
}

// Config bounds per-agent work
type Config struct {
	// AgentTimeout caps a single agent call; 0 disables the per-agent deadline
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
	// BroadcastConcurrency limits in-flight agent calls; <= 0 means unlimited
	BroadcastConcurrency int `mapstructure:"broadcast_concurrency"`
}

// DefaultConfig returns conservative limits
func DefaultConfig() Config {
	return Config{
		AgentTimeout:         60 * time.Second,
		BroadcastConcurrency: 4,
	}
}

// Registry maps a Kind to its implementation
type Registry struct {
	mu         sync.RWMutex
	strategies map[Kind]Strategy
}

// NewRegistry returns a registry with the three built-in strategies
func NewRegistry(answerer rag.Answerer, cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	caller := &agentCaller{answerer: answerer, timeout: cfg.AgentTimeout, logger: logger}
	r := &Registry{strategies: make(map[Kind]Strategy)}
	r.Register(&Direct{caller: caller})
	r.Register(&Broadcast{caller: caller, concurrency: cfg.BroadcastConcurrency})
	r.Register(&Chained{caller: caller})
	return r
}

// Register adds or replaces the strategy for s.Kind()
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Get returns the strategy for kind
func (r *Registry) Get(kind Kind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for %q", kind)
	}
	return s, nil
}

// Kinds lists the registered kinds in a stable order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
