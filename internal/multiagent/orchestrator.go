// Package multiagent answers one prompt with several knowledge agents.
//
// The Orchestrator resolves the agents of a multi-agent, seeds a query scoped
// context, lets a strategy fan the prompt out and integrates the per-agent
// answers. Query level failures never escape as errors or panics: they are
// reported in the returned QueryResult.
package multiagent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/integration"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/strategies"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/session"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/util"
)

// QueryStore is the read side of the relational store used per query
type QueryStore interface {
	GetMultiAgent(ctx context.Context, id int64) (*models.MultiAgent, error)
	GetAgents(ctx context.Context, ids []int64) ([]models.Agent, error)
	GetMultiAgentRelations(ctx context.Context, multiAgentID int64) ([]models.Relation, error)
}

// Config holds orchestrator options
type Config struct {
	// UseRelations loads persisted multi-agent relations into the context,
	// which makes the selector prefer the chained strategy
	UseRelations bool `mapstructure:"use_relations"`
}

// Orchestrator runs multi-agent queries
type Orchestrator struct {
	cfg        Config
	store      QueryStore
	history    session.HistoryStore
	registry   *strategies.Registry
	integrator *integration.Integrator
	logger     *zap.Logger
}

// NewOrchestrator wires the query pipeline. history may be nil to disable
// conversation persistence.
func NewOrchestrator(
	cfg Config,
	store QueryStore,
	history session.HistoryStore,
	registry *strategies.Registry,
	integrator *integration.Integrator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		history:    history,
		registry:   registry,
		integrator: integrator,
		logger:     logger,
	}
}

// ExecuteQuery answers prompt with the agents of multiAgentID. hint is one
// of auto, direct, broadcast or chained; anything else falls back to direct.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, multiAgentID int64, prompt, sessionID, hint string) (result *models.QueryResult) {
	queryID := uuid.New().String()
	start := time.Now()
	strategyLabel := "none"

	ctx, span := tracing.StartSpan(ctx, "multiagent.query",
		attribute.String("query_id", queryID),
		attribute.Int64("multi_agent_id", multiAgentID),
		attribute.String("hint", hint),
	)
	defer span.End()

	logger := o.logger.With(
		zap.String("query_id", queryID),
		zap.Int64("multi_agent_id", multiAgentID),
	)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("Recovered from panic in multi-agent query", zap.Any("panic", r))
			result = o.fatal(logger, err, prompt, sessionID, hint)
		}
		status := models.StatusCompleted
		if result.Failed() {
			status = models.StatusFailed
			tracing.RecordError(span, errors.New(result.Error))
		}
		span.SetAttributes(attribute.String("strategy", strategyLabel))
		metrics.RecordQueryMetrics(strategyLabel, status, time.Since(start).Seconds())
	}()

	ma, err := o.store.GetMultiAgent(ctx, multiAgentID)
	if err != nil {
		return o.fatal(logger, err, prompt, sessionID, hint)
	}

	agents, err := o.store.GetAgents(ctx, ma.AgentIDs)
	if err != nil {
		return o.fatal(logger, err, prompt, sessionID, hint)
	}
	if len(agents) == 0 {
		logger.Warn("No agents found for multi-agent")
		return &models.QueryResult{Error: models.NoAgentsMessage}
	}

	mgr := contextmgr.New(o.history, logger)
	mgr.Initialize(ctx, multiAgentID, prompt, sessionID)

	if o.cfg.UseRelations {
		relations, err := o.store.GetMultiAgentRelations(ctx, multiAgentID)
		if err != nil {
			// relations only steer strategy selection
			logger.Warn("Failed to load multi-agent relations", zap.Error(err))
		} else {
			mgr.SetRelations(relations)
		}
	}

	kind := strategies.Resolve(hint, agents, mgr)
	strategyLabel = string(kind)
	strategy, err := o.registry.Get(kind)
	if err != nil {
		return o.fatal(logger, err, prompt, sessionID, hint)
	}

	logger.Info("Executing multi-agent query",
		zap.String("strategy", strategyLabel),
		zap.Int("agents", len(agents)),
		zap.String("prompt", util.TruncateString(prompt, 120, true)),
	)

	responses := strategy.Execute(ctx, agents, prompt, mgr)
	if err := ctx.Err(); err != nil {
		return o.fatal(logger, err, prompt, sessionID, hint)
	}

	integrated := o.integrator.Integrate(ctx, responses, integration.Query{
		Prompt:         prompt,
		MultiAgentName: ma.Name,
		Context:        mgr,
	})

	logger.Info("Multi-agent query completed",
		zap.String("strategy", strategyLabel),
		zap.Int("responses", len(responses)),
		zap.Duration("duration", time.Since(start)),
	)

	return &models.QueryResult{
		QueryID:             queryID,
		Strategy:            strategyLabel,
		SynthesizedResponse: integrated.SynthesizedResponse,
		IndividualResponses: integrated.IndividualResponses,
	}
}

func (o *Orchestrator) fatal(logger *zap.Logger, err error, prompt, sessionID, hint string) *models.QueryResult {
	logger.Error("Error executing multi-agent query",
		zap.Error(err),
		zap.String("prompt", util.TruncateString(prompt, 120, true)),
		zap.String("session_id", sessionID),
		zap.String("hint", hint),
	)
	return &models.QueryResult{Error: models.QueryFailedMessage, Message: err.Error()}
}
