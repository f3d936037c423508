package models

import "time"

// Conversation roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Result statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// User-facing messages shared across the pipeline
const (
	NoResponseText      = "No response text found."
	AgentFailureMessage = "Failed to get response from this agent."
	NoAgentsMessage     = "No agents associated with this multi-agent."
	QueryFailedMessage  = "Failed to process query."
	NoRelevantResponses = "No relevant responses were found for your query."
)

// Agent is an independently queryable knowledge source
type Agent struct {
	ID               int64  `json:"id" db:"id"`
	UserID           int64  `json:"user_id" db:"user_id"`
	Name             string `json:"name" db:"name"`
	VectorCollection string `json:"vector_collection" db:"vector_collection"`
}

// MultiAgent groups 2-10 agents queried together
type MultiAgent struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	AgentIDs  []int64    `json:"agent_ids" db:"-"`
	Relations []Relation `json:"relations,omitempty" db:"-"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Relation links a source agent field to a target agent field.
// Used for both agent_relations and multi_agent_relations rows.
type Relation struct {
	ID            int64   `json:"id,omitempty" db:"id"`
	MultiAgentID  int64   `json:"multi_agent_id,omitempty" db:"multi_agent_id"`
	SourceAgentID int64   `json:"source_agent_id" db:"source_agent_id"`
	TargetAgentID int64   `json:"target_agent_id" db:"target_agent_id"`
	JoinKey       string  `json:"join_key" db:"join_key"`
	Description   string  `json:"description,omitempty" db:"description"`
	Confidence    float64 `json:"confidence" db:"confidence"`
}

// ConversationEntry is one turn of conversation history
type ConversationEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RAGAnswer is what a single agent returns for a prompt
type RAGAnswer struct {
	Response string `json:"response"`
	// Context holds the payloads of the retrieved points
	Context    []map[string]interface{} `json:"context"`
	Confidence float64                  `json:"confidence"`
}

// Payload returns the answer as the opaque raw_details map
func (a *RAGAnswer) Payload() map[string]interface{} {
	if a == nil {
		return map[string]interface{}{}
	}
	ctx := make([]interface{}, len(a.Context))
	for i, c := range a.Context {
		ctx[i] = c
	}
	return map[string]interface{}{
		"response":   a.Response,
		"context":    ctx,
		"confidence": a.Confidence,
	}
}

// AgentResponse is the per-agent unit exchanged between strategies,
// conflict resolution and integration. Exactly one of Response/Error is set.
type AgentResponse struct {
	AgentID    int64                  `json:"agent_id" yaml:"agent_id"`
	AgentName  string                 `json:"agent_name" yaml:"agent_name"`
	Response   *string                `json:"response,omitempty" yaml:"response,omitempty"`
	Error      *string                `json:"error,omitempty" yaml:"error,omitempty"`
	RawDetails map[string]interface{} `json:"raw_details" yaml:"raw_details"`
}

// NewSuccessResponse builds a response carrying agent text
func NewSuccessResponse(agent Agent, text string, raw map[string]interface{}) AgentResponse {
	return AgentResponse{AgentID: agent.ID, AgentName: agent.Name, Response: &text, RawDetails: raw}
}

// NewErrorResponse builds a response for a failed agent call
func NewErrorResponse(agent Agent, err error) AgentResponse {
	msg := AgentFailureMessage
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return AgentResponse{
		AgentID:    agent.ID,
		AgentName:  agent.Name,
		Error:      &msg,
		RawDetails: map[string]interface{}{"message": detail},
	}
}

// Text returns the response text or "" when absent
func (r AgentResponse) Text() string {
	if r.Response == nil {
		return ""
	}
	return *r.Response
}

// Failed reports whether the agent call errored
func (r AgentResponse) Failed() bool { return r.Error != nil }

// AsMap renders the response as a plain map so nested lookups can walk it
func (r AgentResponse) AsMap() map[string]interface{} {
	m := map[string]interface{}{
		"agent_id":    r.AgentID,
		"agent_name":  r.AgentName,
		"raw_details": r.RawDetails,
	}
	if r.Response != nil {
		m["response"] = *r.Response
	}
	if r.Error != nil {
		m["error"] = *r.Error
	}
	return m
}

// QueryResult is returned to the caller of ExecuteQuery.
// On failure only Error (and optionally Message) are populated.
type QueryResult struct {
	QueryID             string          `json:"query_id,omitempty" yaml:"query_id,omitempty"`
	Strategy            string          `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	SynthesizedResponse string          `json:"synthesized_response,omitempty" yaml:"synthesized_response,omitempty"`
	IndividualResponses []AgentResponse `json:"individual_responses,omitempty" yaml:"individual_responses,omitempty"`
	Error               string          `json:"error,omitempty" yaml:"error,omitempty"`
	Message             string          `json:"message,omitempty" yaml:"message,omitempty"`
}

// Failed reports whether the query hit a query-level error
func (q *QueryResult) Failed() bool { return q != nil && q.Error != "" }

// JoinKeySuggestion is the outcome of a successful join-key detection
type JoinKeySuggestion struct {
	JoinKey     string  `json:"join_key" yaml:"join_key"`
	TargetKey   string  `json:"target_key" yaml:"target_key"`
	Confidence  float64 `json:"confidence" yaml:"confidence"`
	Description string  `json:"description" yaml:"description"`
}
