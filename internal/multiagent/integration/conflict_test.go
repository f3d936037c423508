package integration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

type mapLookup map[string]interface{}

func (m mapLookup) Lookup(path string, def interface{}) interface{} {
	if v, ok := m[path]; ok {
		return v
	}
	return def
}

func names(rs []models.AgentResponse) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.AgentName
	}
	return out
}

func TestExtractTotal(t *testing.T) {
	cases := map[string]struct {
		value float64
		ok    bool
	}{
		"Total amount: $1,234.50":                {1234.50, true},
		"total AMOUNT for March: $99":            {99, true},
		"The total amount due is: $12.":          {12, true},
		"Grand total: $10":                       {0, false},
		"Total amount: 500 USD":                  {0, false},
		"Summary\nTotal amount (net): $3,000,000": {3000000, true},
	}
	for in, want := range cases {
		v, ok := ExtractTotal(in)
		assert.Equal(t, want.ok, ok, in)
		assert.InDelta(t, want.value, v, 1e-9, in)
	}
}

func TestResolveKeepsHighestConfidence(t *testing.T) {
	responses := []models.AgentResponse{
		ok(1, "A", "Total amount: $100"),
		ok(2, "B", "Narrative without figures"),
		ok(3, "C", "Total amount: $120"),
	}
	lookup := mapLookup{
		"agent_1_data.raw_details.confidence": 0.4,
		"agent_3_data.raw_details.confidence": 0.9,
	}
	out := NewConflictResolver(zaptest.NewLogger(t)).Resolve(responses, lookup)
	assert.Equal(t, []string{"B", "C"}, names(out))
}

func TestResolveKeepsAllTiesInInputOrder(t *testing.T) {
	responses := []models.AgentResponse{
		ok(1, "A", "Total amount: $100"),
		ok(2, "B", "Total amount: $110"),
		ok(3, "C", "Total amount: $90"),
	}
	lookup := mapLookup{
		"agent_1_data.raw_details.confidence": 0.8,
		"agent_2_data.raw_details.confidence": 0.5,
		"agent_3_data.raw_details.confidence": 0.8,
	}
	out := NewConflictResolver(zaptest.NewLogger(t)).Resolve(responses, lookup)
	assert.Equal(t, []string{"A", "C"}, names(out))
}

func TestResolveDefaultsConfidence(t *testing.T) {
	responses := []models.AgentResponse{
		ok(1, "A", "Total amount: $100"),
		ok(2, "B", "Total amount: $110"),
	}
	lookup := mapLookup{"agent_2_data.raw_details.confidence": json.Number("0.49")}
	out := NewConflictResolver(zaptest.NewLogger(t)).Resolve(responses, lookup)
	assert.Equal(t, []string{"A"}, names(out))

	out = NewConflictResolver(nil).Resolve(responses, nil)
	assert.Equal(t, []string{"A", "B"}, names(out), "both default to 0.5")
}

func TestResolveWithoutClaimsIsIdentity(t *testing.T) {
	responses := []models.AgentResponse{ok(1, "A", "x"), ok(2, "B", "y")}
	out := NewConflictResolver(nil).Resolve(responses, mapLookup{})
	assert.Equal(t, responses, out)

	empty := NewConflictResolver(nil).Resolve(nil, mapLookup{})
	require.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestToFloat(t *testing.T) {
	assert.Equal(t, 0.7, toFloat(0.7, 0.5))
	assert.Equal(t, 1.0, toFloat(1, 0.5))
	assert.Equal(t, 2.0, toFloat(int64(2), 0.5))
	assert.Equal(t, 0.25, toFloat("0.25", 0.5))
	assert.Equal(t, 0.5, toFloat("high", 0.5))
	assert.Equal(t, 0.5, toFloat(nil, 0.5))
}
