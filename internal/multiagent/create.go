package multiagent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/util"
)

// Limits enforced when creating a multi-agent
const (
	MinAgents     = 2
	MaxAgents     = 10
	MaxNameLength = 100
	MaxJoinKeyLen = 255
)

// CatalogStore is the write side of the relational store
type CatalogStore interface {
	GetAgents(ctx context.Context, ids []int64) ([]models.Agent, error)
	MultiAgentNameExists(ctx context.Context, name string) (bool, error)
	CreateMultiAgent(ctx context.Context, ma *models.MultiAgent, relations []models.Relation) error
}

// ValidationError lists every rejected field with its messages
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// CreateRequest describes a new multi-agent. A blank name is replaced by a
// suggested one.
type CreateRequest struct {
	Name      string            `json:"name" yaml:"name"`
	AgentIDs  []int64           `json:"agent_ids" yaml:"agent_ids"`
	Relations []models.Relation `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Creator validates and persists multi-agents
type Creator struct {
	store  CatalogStore
	logger *zap.Logger
	now    func() time.Time
}

// NewCreator creates a Creator backed by store
func NewCreator(store CatalogStore, logger *zap.Logger) *Creator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{store: store, logger: logger, now: time.Now}
}

// CreateMultiAgent validates req and stores the multi-agent with its
// relations. Invalid input yields a *ValidationError.
func (c *Creator) CreateMultiAgent(ctx context.Context, req CreateRequest) (*models.MultiAgent, error) {
	verr := &ValidationError{}

	if utf8.RuneCountInString(req.Name) > MaxNameLength {
		verr.add("name", fmt.Sprintf("The name must not be greater than %d characters.", MaxNameLength))
	}

	switch n := len(req.AgentIDs); {
	case n < MinAgents:
		verr.add("agent_ids", fmt.Sprintf("The agent ids field must have at least %d items.", MinAgents))
	case n > MaxAgents:
		verr.add("agent_ids", fmt.Sprintf("The agent ids field must not have more than %d items.", MaxAgents))
	}

	seen := make(map[int64]bool, len(req.AgentIDs))
	for i, id := range req.AgentIDs {
		if seen[id] {
			verr.add(fmt.Sprintf("agent_ids.%d", i), "The agent ids field has a duplicate value.")
		}
		seen[id] = true
	}

	agents, err := c.store.GetAgents(ctx, req.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	known := make(map[int64]bool, len(agents))
	for _, a := range agents {
		known[a.ID] = true
	}
	for i, id := range req.AgentIDs {
		if !known[id] {
			verr.add(fmt.Sprintf("agent_ids.%d", i), fmt.Sprintf("The selected agent_ids.%d is invalid.", i))
		}
	}

	for i, rel := range req.Relations {
		prefix := fmt.Sprintf("relations.%d.", i)
		if !util.ContainsInt64(req.AgentIDs, rel.SourceAgentID) {
			verr.add(prefix+"source_agent_id", "The source agent must be one of the selected agents.")
		}
		if !util.ContainsInt64(req.AgentIDs, rel.TargetAgentID) {
			verr.add(prefix+"target_agent_id", "The target agent must be one of the selected agents.")
		}
		if rel.SourceAgentID == rel.TargetAgentID {
			verr.add(prefix+"target_agent_id", "The target agent and source agent must be different.")
		}
		switch key := strings.TrimSpace(rel.JoinKey); {
		case key == "":
			verr.add(prefix+"join_key", "The join key field is required.")
		case utf8.RuneCountInString(key) > MaxJoinKeyLen:
			verr.add(prefix+"join_key", fmt.Sprintf("The join key must not be greater than %d characters.", MaxJoinKeyLen))
		}
	}

	if !verr.empty() {
		return nil, verr
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = suggestName(agents, c.now())
	} else {
		name = util.HumanizeName(name)
	}

	taken, err := c.store.MultiAgentNameExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check name: %w", err)
	}
	if taken {
		verr.add("name", "The name is already taken.")
		return nil, verr
	}

	ma := &models.MultiAgent{Name: name, AgentIDs: append([]int64(nil), req.AgentIDs...)}
	relations := append([]models.Relation(nil), req.Relations...)
	if err := c.store.CreateMultiAgent(ctx, ma, relations); err != nil {
		return nil, fmt.Errorf("create multi-agent: %w", err)
	}
	return ma, nil
}

// SuggestName proposes MultiAgent_{AgentNames}_{YYYYMMDDhhmmss} for agentIDs
func (c *Creator) SuggestName(ctx context.Context, agentIDs []int64, now time.Time) (string, error) {
	agents, err := c.store.GetAgents(ctx, agentIDs)
	if err != nil {
		return "", fmt.Errorf("load agents: %w", err)
	}
	return suggestName(agents, now), nil
}

func suggestName(agents []models.Agent, now time.Time) string {
	var b strings.Builder
	for _, a := range agents {
		b.WriteString(strings.ReplaceAll(util.UpperWords(a.Name), " ", ""))
	}
	return "MultiAgent_" + b.String() + "_" + now.Format("20060102150405")
}
