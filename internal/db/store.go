package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

var (
	ErrMultiAgentNotFound = errors.New("multi-agent not found")
	ErrAgentNotFound      = errors.New("agent not found")
)

const agentColumns = "id, user_id, name, vector_collection"

// GetMultiAgent loads a multi-agent by id
func (c *Client) GetMultiAgent(ctx context.Context, id int64) (*models.MultiAgent, error) {
	var row multiAgentRow
	err := c.db.GetContext(ctx, &row, c.db.Rebind(
		`SELECT id, name, agent_ids, created_at, updated_at FROM multi_agents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrMultiAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get multi-agent %d: %w", id, err)
	}
	return row.toModel(), nil
}

// GetAgent loads a single agent
func (c *Client) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	var agent models.Agent
	err := c.db.GetContext(ctx, &agent, c.db.Rebind(
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrAgentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %d: %w", id, err)
	}
	return &agent, nil
}

// GetAgents loads the agents with the given ids in the order of ids.
// Unknown ids are skipped.
func (c *Client) GetAgents(ctx context.Context, ids []int64) ([]models.Agent, error) {
	if len(ids) == 0 {
		return []models.Agent{}, nil
	}

	var (
		rows []models.Agent
		err  error
	)
	if c.isPostgres() {
		err = c.db.SelectContext(ctx, &rows,
			`SELECT `+agentColumns+` FROM agents WHERE id = ANY($1)`, pq.Array(ids))
	} else {
		query, args, inErr := sqlx.In(`SELECT `+agentColumns+` FROM agents WHERE id IN (?)`, ids)
		if inErr != nil {
			return nil, fmt.Errorf("build agent query: %w", inErr)
		}
		err = c.db.SelectContext(ctx, &rows, c.db.Rebind(query), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("get agents: %w", err)
	}

	byID := make(map[int64]models.Agent, len(rows))
	for _, a := range rows {
		byID[a.ID] = a
	}
	agents := make([]models.Agent, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok && !seen[id] {
			agents = append(agents, a)
			seen[id] = true
		}
	}
	return agents, nil
}

// GetAgentsForMultiAgent resolves the agents of a multi-agent
func (c *Client) GetAgentsForMultiAgent(ctx context.Context, multiAgentID int64) ([]models.Agent, error) {
	ma, err := c.GetMultiAgent(ctx, multiAgentID)
	if err != nil {
		return nil, err
	}
	return c.GetAgents(ctx, ma.AgentIDs)
}

// GetMultiAgentRelations returns the relations declared for a multi-agent
func (c *Client) GetMultiAgentRelations(ctx context.Context, multiAgentID int64) ([]models.Relation, error) {
	var rows []relationRow
	err := c.db.SelectContext(ctx, &rows, c.db.Rebind(
		`SELECT id, multi_agent_id, source_agent_id, target_agent_id, join_key, description,
		        suggested_confidence AS confidence
		   FROM multi_agent_relations
		  WHERE multi_agent_id = ?
		  ORDER BY id`), multiAgentID)
	if err != nil {
		return nil, fmt.Errorf("get relations for multi-agent %d: %w", multiAgentID, err)
	}
	out := make([]models.Relation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// MultiAgentNameExists reports whether name is taken, ignoring case
func (c *Client) MultiAgentNameExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n, c.db.Rebind(
		`SELECT COUNT(1) FROM multi_agents WHERE LOWER(name) = LOWER(?)`), name)
	if err != nil {
		return false, fmt.Errorf("check multi-agent name: %w", err)
	}
	return n > 0, nil
}

// CreateMultiAgent inserts ma and its relations in one transaction and fills
// in the generated id and timestamps
func (c *Client) CreateMultiAgent(ctx context.Context, ma *models.MultiAgent, relations []models.Relation) error {
	insertMA := c.db.Rebind(`INSERT INTO multi_agents (name, agent_ids) VALUES (?, ?)
		RETURNING id, created_at, updated_at`)
	insertRel := c.db.Rebind(`INSERT INTO multi_agent_relations
		(multi_agent_id, source_agent_id, target_agent_id, join_key, description, suggested_confidence)
		VALUES (?, ?, ?, ?, ?, ?)`)

	err := c.WithTransaction(ctx, func(tx *circuitbreaker.TxWrapper) error {
		var created struct {
			ID        int64   `db:"id"`
			CreatedAt sqlTime `db:"created_at"`
			UpdatedAt sqlTime `db:"updated_at"`
		}
		if err := tx.GetContext(ctx, &created, insertMA, ma.Name, Int64List(ma.AgentIDs)); err != nil {
			return fmt.Errorf("insert multi-agent: %w", err)
		}
		ma.ID = created.ID
		ma.CreatedAt = created.CreatedAt.Time
		ma.UpdatedAt = created.UpdatedAt.Time

		for i := range relations {
			rel := &relations[i]
			rel.MultiAgentID = ma.ID
			if _, err := tx.ExecContext(ctx, insertRel, ma.ID, rel.SourceAgentID, rel.TargetAgentID,
				rel.JoinKey, nullString(rel.Description), rel.Confidence); err != nil {
				return fmt.Errorf("insert relation %d->%d: %w", rel.SourceAgentID, rel.TargetAgentID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ma.Relations = relations
	c.logger.Info("Multi-agent created",
		zap.Int64("multi_agent_id", ma.ID),
		zap.String("name", ma.Name),
		zap.Int("agents", len(ma.AgentIDs)),
		zap.Int("relations", len(relations)),
	)
	return nil
}

// UpsertAgentRelation stores a detected relation keyed by
// (source_agent_id, target_agent_id, join_key)
func (c *Client) UpsertAgentRelation(ctx context.Context, rel models.Relation) error {
	_, err := c.db.ExecContext(ctx, c.db.Rebind(`INSERT INTO agent_relations
		(source_agent_id, target_agent_id, join_key, description, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source_agent_id, target_agent_id, join_key)
		DO UPDATE SET description = excluded.description,
		              confidence = excluded.confidence,
		              updated_at = CURRENT_TIMESTAMP`),
		rel.SourceAgentID, rel.TargetAgentID, rel.JoinKey, nullString(rel.Description), rel.Confidence)
	if err != nil {
		return fmt.Errorf("upsert relation %d->%d: %w", rel.SourceAgentID, rel.TargetAgentID, err)
	}
	return nil
}

// ListAgentRelations returns detected relations touching agentID
func (c *Client) ListAgentRelations(ctx context.Context, agentID int64) ([]models.Relation, error) {
	var rows []relationRow
	err := c.db.SelectContext(ctx, &rows, c.db.Rebind(
		`SELECT id, NULL AS multi_agent_id, source_agent_id, target_agent_id, join_key, description, confidence
		   FROM agent_relations
		  WHERE source_agent_id = ? OR target_agent_id = ?
		  ORDER BY confidence DESC, id`), agentID, agentID)
	if err != nil {
		return nil, fmt.Errorf("list relations for agent %d: %w", agentID, err)
	}
	out := make([]models.Relation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
