// Package contextmgr owns the shared context of one query and is the only
// write path into it. All reads and writes are serialized, which lets
// strategies query agents concurrently.
package contextmgr

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/sharedctx"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/session"
)

// Manager owns one sharedctx.Context for the duration of a query.
// A Manager must not be shared across queries.
type Manager struct {
	mu           sync.Mutex
	sc           *sharedctx.Context
	store        session.HistoryStore
	logger       *zap.Logger
	multiAgentID int64
	sessionID    string
}

// New creates a manager. store may be nil, in which case history is kept
// in the context only.
func New(store session.HistoryStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{sc: sharedctx.New(), store: store, logger: logger}
}

// Initialize resets the context and seeds query metadata. With a session id
// the prior conversation history is loaded; cache failures degrade to an
// empty history.
func (m *Manager) Initialize(ctx context.Context, multiAgentID int64, prompt, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sc.Clear()
	m.multiAgentID = multiAgentID
	m.sessionID = sessionID

	m.sc.Merge(map[string]interface{}{
		sharedctx.KeyMultiAgentID: multiAgentID,
		sharedctx.KeyPrompt:       prompt,
		sharedctx.KeySessionID:    sessionID,
	})

	if sessionID != "" {
		m.sc.Set(sharedctx.KeyConversationHistory, m.load(ctx, session.MultiAgentHistoryKey(multiAgentID, sessionID)))
	}

	m.sc.Set(sharedctx.KeyRelations, []models.Relation{})
}

// AddUserPrompt appends the prompt to the shared history and persists it.
// No-op when history tracking is inactive.
func (m *Manager) AddUserPrompt(ctx context.Context, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendHistory(ctx, models.ConversationEntry{Role: models.RoleUser, Content: prompt})
}

// UpdateFromAgent stores the agent's response under agent_{id}_data and,
// when it carries text, appends it to the shared history.
func (m *Manager) UpdateFromAgent(ctx context.Context, agentID int64, resp models.AgentResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sc.Set(sharedctx.AgentDataKey(agentID), resp.AsMap())
	if resp.Response != nil {
		m.appendHistory(ctx, models.ConversationEntry{Role: models.RoleAssistant, Content: *resp.Response})
	}
}

// appendHistory requires m.mu
func (m *Manager) appendHistory(ctx context.Context, entry models.ConversationEntry) {
	if !m.sc.Has(sharedctx.KeyConversationHistory) {
		return
	}
	history := m.historyLocked()
	history = append(history, entry)
	m.sc.Set(sharedctx.KeyConversationHistory, history)

	if m.sessionID != "" {
		m.save(ctx, session.MultiAgentHistoryKey(m.multiAgentID, m.sessionID), history)
	}
}

// History returns a copy of the shared conversation history
func (m *Manager) History() []models.ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.historyLocked()
	out := make([]models.ConversationEntry, len(h))
	copy(out, h)
	return out
}

func (m *Manager) historyLocked() []models.ConversationEntry {
	h, _ := m.sc.Get(sharedctx.KeyConversationHistory, []models.ConversationEntry{}).([]models.ConversationEntry)
	return h
}

// AgentHistory loads the per-agent history for the current session.
// Empty when there is no session or the cache is unavailable.
func (m *Manager) AgentHistory(ctx context.Context, agentID int64) []models.ConversationEntry {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	if sessionID == "" {
		return []models.ConversationEntry{}
	}
	return m.load(ctx, session.AgentHistoryKey(agentID, sessionID))
}

// AppendAgentHistory records a prompt/answer pair in the per-agent history
func (m *Manager) AppendAgentHistory(ctx context.Context, agentID int64, prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID == "" {
		return
	}
	key := session.AgentHistoryKey(agentID, m.sessionID)
	history := m.load(ctx, key)
	history = append(history,
		models.ConversationEntry{Role: models.RoleUser, Content: prompt},
		models.ConversationEntry{Role: models.RoleAssistant, Content: response},
	)
	m.save(ctx, key, history)
}

// SetRelations replaces the relations signal used for strategy selection
func (m *Manager) SetRelations(relations []models.Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if relations == nil {
		relations = []models.Relation{}
	}
	m.sc.Set(sharedctx.KeyRelations, relations)
}

// Relations returns the relations currently in the context
func (m *Manager) Relations() []models.Relation {
	m.mu.Lock()
	defer m.mu.Unlock()
	rels, _ := m.sc.Get(sharedctx.KeyRelations, []models.Relation{}).([]models.Relation)
	return rels
}

// Lookup resolves a dotted path against the context
func (m *Manager) Lookup(path string, def interface{}) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.Lookup(path, def)
}

// Snapshot returns a shallow copy of every context entry
func (m *Manager) Snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.All()
}

// Dump renders the context as indented JSON
func (m *Manager) Dump() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.Dump()
}

// Empty reports whether the context holds no entries
func (m *Manager) Empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sc.Len() == 0
}

// SessionID returns the session the query runs in
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Context exposes the underlying context to readers that run after all
// strategy writes have finished.
func (m *Manager) Context() *sharedctx.Context {
	return m.sc
}

func (m *Manager) load(ctx context.Context, key string) []models.ConversationEntry {
	if m.store == nil {
		return []models.ConversationEntry{}
	}
	h, err := m.store.Load(ctx, key)
	if err != nil {
		m.logger.Warn("Failed to load conversation history",
			zap.String("key", key),
			zap.Error(err),
		)
		return []models.ConversationEntry{}
	}
	if h == nil {
		h = []models.ConversationEntry{}
	}
	return h
}

func (m *Manager) save(ctx context.Context, key string, history []models.ConversationEntry) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, key, history); err != nil {
		m.logger.Warn("Failed to persist conversation history",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
