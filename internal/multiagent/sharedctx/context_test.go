package sharedctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextBasicOperations(t *testing.T) {
	c := New()

	assert.False(t, c.Has("prompt"))
	assert.Equal(t, "fallback", c.Get("prompt", "fallback"))

	c.Set("prompt", "hello")
	assert.True(t, c.Has("prompt"))
	assert.Equal(t, "hello", c.Get("prompt", nil))

	c.Merge(map[string]interface{}{"a": 1, "prompt": "replaced"})
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "replaced", c.Get("prompt", nil))

	all := c.All()
	all["b"] = 2
	assert.False(t, c.Has("b"), "All must return a copy")

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestLookupNestedPath(t *testing.T) {
	c := New()
	c.Set(AgentDataKey(7), map[string]interface{}{
		"agent_id": int64(7),
		"raw_details": map[string]interface{}{
			"confidence": 0.9,
		},
	})

	assert.Equal(t, 0.9, c.Lookup("agent_7_data.raw_details.confidence", 0.5))
	assert.Equal(t, 0.5, c.Lookup("agent_7_data.raw_details.missing", 0.5))
	assert.Equal(t, 0.5, c.Lookup("agent_8_data.raw_details.confidence", 0.5))
	assert.Equal(t, 0.5, c.Lookup("agent_7_data.agent_id.deeper", 0.5))
}

func TestLookupPrefersLiteralKey(t *testing.T) {
	c := New()
	c.Set("a.b", "literal")
	c.Set("a", map[string]interface{}{"b": "nested"})

	assert.Equal(t, "literal", c.Lookup("a.b", nil))
}

func TestDumpIsJSON(t *testing.T) {
	c := New()
	c.Set("prompt", "q")
	out := c.Dump()
	require.Contains(t, out, `"prompt": "q"`)
}
