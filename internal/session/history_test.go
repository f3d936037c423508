package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(client, time.Hour, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestMultiAgentHistoryKey(t *testing.T) {
	assert.Equal(t, "multi_agent_history_7_abc", MultiAgentHistoryKey(7, "abc"))
	assert.Equal(t, "chat_history_7_abc", AgentHistoryKey(7, "abc"))
	assert.NotEqual(t, MultiAgentHistoryKey(7, "abc"), AgentHistoryKey(7, "abc"))
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	entries, err := m.Load(context.Background(), MultiAgentHistoryKey(1, "none"))
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	key := MultiAgentHistoryKey(3, "s1")

	in := []models.ConversationEntry{
		{Role: models.RoleUser, Content: "How many orders?"},
		{Role: models.RoleAssistant, Content: "There were 42 orders."},
	}
	require.NoError(t, m.Save(ctx, key, in))
	assert.Equal(t, time.Hour, mr.TTL(key))

	out, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadRefreshesTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	key := MultiAgentHistoryKey(3, "s2")

	require.NoError(t, m.Save(ctx, key, []models.ConversationEntry{{Role: models.RoleUser, Content: "hi"}}))
	mr.FastForward(50 * time.Minute)
	assert.Equal(t, 10*time.Minute, mr.TTL(key))

	_, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestExpiredHistoryIsGone(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	key := MultiAgentHistoryKey(9, "s3")

	require.NoError(t, m.Save(ctx, key, []models.ConversationEntry{{Role: models.RoleUser, Content: "hi"}}))
	mr.FastForward(2 * time.Hour)

	out, err := m.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorruptHistoryIsDiscarded(t *testing.T) {
	m, mr := newTestManager(t)
	key := MultiAgentHistoryKey(1, "bad")
	require.NoError(t, mr.Set(key, "not-json"))

	out, err := m.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUnavailableCacheReturnsSentinel(t *testing.T) {
	m, mr := newTestManager(t)
	mr.Close()

	_, err := m.Load(context.Background(), MultiAgentHistoryKey(1, "x"))
	assert.ErrorIs(t, err, ErrHistoryUnavailable)

	err = m.Save(context.Background(), MultiAgentHistoryKey(1, "x"), nil)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestDelete(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	key := MultiAgentHistoryKey(2, "d")
	require.NoError(t, m.Save(ctx, key, []models.ConversationEntry{{Role: models.RoleUser, Content: "x"}}))
	require.NoError(t, m.Delete(ctx, key))
	assert.False(t, mr.Exists(key))
}
