package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// Int64List is a JSON encoded list of ids (jsonb on Postgres, TEXT on SQLite)
type Int64List []int64

// Value implements the driver.Valuer interface
func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (l *Int64List) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = Int64List{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Int64List", value)
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("decode id list: %w", err)
	}
	*l = ids
	return nil
}

// sqlTime scans timestamps returned as time.Time or as text, which SQLite
// does for RETURNING clauses
type sqlTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Scan implements the sql.Scanner interface
func (t *sqlTime) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("cannot scan %T into time", value)
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}

// multiAgentRow mirrors the multi_agents table
type multiAgentRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	AgentIDs  Int64List `db:"agent_ids"`
	CreatedAt sqlTime   `db:"created_at"`
	UpdatedAt sqlTime   `db:"updated_at"`
}

func (r multiAgentRow) toModel() *models.MultiAgent {
	return &models.MultiAgent{
		ID:        r.ID,
		Name:      r.Name,
		AgentIDs:  []int64(r.AgentIDs),
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

// relationRow covers both agent_relations and multi_agent_relations
type relationRow struct {
	ID            int64    `db:"id"`
	MultiAgentID  *int64   `db:"multi_agent_id"`
	SourceAgentID int64    `db:"source_agent_id"`
	TargetAgentID int64    `db:"target_agent_id"`
	JoinKey       string   `db:"join_key"`
	Description   *string  `db:"description"`
	Confidence    *float64 `db:"confidence"`
}

func (r relationRow) toModel() models.Relation {
	rel := models.Relation{
		ID:            r.ID,
		SourceAgentID: r.SourceAgentID,
		TargetAgentID: r.TargetAgentID,
		JoinKey:       r.JoinKey,
	}
	if r.MultiAgentID != nil {
		rel.MultiAgentID = *r.MultiAgentID
	}
	if r.Description != nil {
		rel.Description = *r.Description
	}
	if r.Confidence != nil {
		rel.Confidence = *r.Confidence
	}
	return rel
}
