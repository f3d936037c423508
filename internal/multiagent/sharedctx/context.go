// Package sharedctx holds the per-query scratch space that agents write into
// and reconciliation reads from.
//
// Key conventions (a contract between writers, not enforced here):
//
//	multi_agent_id, prompt, session_id   seeded at initialization
//	conversation_history                 []models.ConversationEntry, the only persisted key
//	relations                            []models.Relation, chaining signal
//	agent_{id}_data                      map written once per agent per query
//
// Each agent writes only under its own agent_{id}_data key, so concurrent
// writers never collide on a key. A Context does no locking of its own; the
// owning contextmgr.Manager serializes access.
package sharedctx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Well-known keys
const (
	KeyMultiAgentID        = "multi_agent_id"
	KeyPrompt              = "prompt"
	KeySessionID           = "session_id"
	KeyConversationHistory = "conversation_history"
	KeyRelations           = "relations"
)

// AgentDataKey returns the key under which an agent's result is stored
func AgentDataKey(agentID int64) string {
	return fmt.Sprintf("agent_%d_data", agentID)
}

// Context is a query-scoped key/value store
type Context struct {
	data map[string]interface{}
}

// New returns an empty context
func New() *Context {
	return &Context{data: make(map[string]interface{})}
}

// Set stores value under key, replacing any previous value
func (c *Context) Set(key string, value interface{}) {
	c.data[key] = value
}

// Get returns the value under key or def when missing
func (c *Context) Get(key string, def interface{}) interface{} {
	if v, ok := c.data[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present
func (c *Context) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Merge copies every entry of m into the context
func (c *Context) Merge(m map[string]interface{}) {
	for k, v := range m {
		c.data[k] = v
	}
}

// Clear drops all entries
func (c *Context) Clear() {
	c.data = make(map[string]interface{})
}

// Len returns the number of top-level keys
func (c *Context) Len() int { return len(c.data) }

// All returns a shallow copy of the context
func (c *Context) All() map[string]interface{} {
	out := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Lookup resolves a dotted path such as "agent_3_data.raw_details.confidence".
// The first segment that matches a top-level key wins; remaining segments walk
// nested map[string]interface{} values. def is returned on any miss.
func (c *Context) Lookup(path string, def interface{}) interface{} {
	if v, ok := c.data[path]; ok {
		return v
	}
	parts := strings.Split(path, ".")
	var cur interface{}
	found := false
	for i := len(parts) - 1; i > 0; i-- {
		if v, ok := c.data[strings.Join(parts[:i], ".")]; ok {
			cur = v
			parts = parts[i:]
			found = true
			break
		}
	}
	if !found {
		return def
	}
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return def
		}
		if cur, ok = m[p]; !ok {
			return def
		}
	}
	return cur
}

// Dump renders the context as indented JSON for prompt injection.
// Values that cannot be encoded are rendered with %v.
func (c *Context) Dump() string {
	b, err := json.MarshalIndent(c.data, "", "    ")
	if err != nil {
		return fmt.Sprintf("%v", c.data)
	}
	return string(b)
}
