package joinkey

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

type fakeAgents map[int64]models.Agent

func (f fakeAgents) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	a, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("agent not found: %d", id)
	}
	return &a, nil
}

type fakeSampler struct {
	points map[string][]vectordb.Point
	err    error
	limits []int
}

func (f *fakeSampler) FetchPoints(_ context.Context, collection string, limit int) ([]vectordb.Point, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.points[collection], nil
}

type fakeRelations struct {
	stored []models.Relation
	err    error
}

func (f *fakeRelations) UpsertAgentRelation(_ context.Context, rel models.Relation) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, rel)
	return nil
}

func set(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func points(n int, payload func(i int) map[string]interface{}) []vectordb.Point {
	out := make([]vectordb.Point, n)
	for i := range out {
		out[i] = vectordb.Point{ID: i + 1, Payload: payload(i)}
	}
	return out
}

var testAgents = fakeAgents{
	1: {ID: 1, Name: "Ledger", VectorCollection: "ledger"},
	2: {ID: 2, Name: "Support", VectorCollection: "support"},
}

func linkedSampler(n int) *fakeSampler {
	return &fakeSampler{points: map[string][]vectordb.Point{
		"ledger": points(n, func(i int) map[string]interface{} {
			return map[string]interface{}{
				"customer_id": float64(1000 + i),
				"amount":      float64(i) * 12.5,
				"note":        "",
			}
		}),
		"support": points(n, func(i int) map[string]interface{} {
			return map[string]interface{}{
				"Customer ID": fmt.Sprint(1000 + i),
				"ticket":      fmt.Sprintf("T-%d", i),
				"meta":        map[string]interface{}{"customer_id": 1},
			}
		}),
	}}
}

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("customer_id", "Customer ID"))
	assert.InDelta(t, 1-3.0/11+0.2, NameSimilarity("customer id", "customer"), 1e-9)
	assert.Equal(t, 0.0, NameSimilarity("email", "phone"))
	assert.Equal(t, 1.0, NameSimilarity("order_number", "order number"))
	assert.LessOrEqual(t, NameSimilarity("id", "ids"), 1.0)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.5, Jaccard(set("a", "b", "c"), set("b", "c", "d")))
	assert.Equal(t, 1.0, Jaccard(set("x"), set("x")))
	assert.Equal(t, 0.0, Jaccard(set(), set()))
	assert.Equal(t, 0.0, Jaccard(set("a"), set()))
}

func TestChiSquaredScore(t *testing.T) {
	assert.InDelta(t, 0.8, ChiSquaredScore(set("a", "b", "c"), set("b", "c", "d")), 1e-9)
	assert.Equal(t, 1.0, ChiSquaredScore(set("a", "b"), set("a", "b")))

	var many []string
	for i := 0; i < 20; i++ {
		many = append(many, fmt.Sprint(i))
	}
	assert.Equal(t, 0.0, ChiSquaredScore(set(many...), set("other")))
	assert.InDelta(t, 0.7, ChiSquaredScore(set(), set("a", "b", "c")), 1e-9)
}

func TestConfidenceWeights(t *testing.T) {
	s, tg := set("a", "b", "c"), set("b", "c", "d")
	assert.InDelta(t, 0.5*0.6+1*0.3+0.8*0.1, Confidence(s, tg, 1, 50), 1e-9)
	assert.InDelta(t, 0.5*0.7+1*0.2+0.8*0.1, Confidence(s, tg, 1, 51), 1e-9)
	assert.InDelta(t, 1.0, Confidence(set("a"), set("a"), 1, 10), 1e-9)
}

func TestScoreNormalizesAndStringifies(t *testing.T) {
	sampler := linkedSampler(5)
	candidates := Score(sampler.points["ledger"], sampler.points["support"])

	var found *Candidate
	for i := range candidates {
		c := &candidates[i]
		if c.SourceField == "customer id" && c.TargetField == "customer id" {
			found = c
		}
		assert.NotContains(t, c.SourceField, "_")
	}
	require.NotNil(t, found)
	assert.Equal(t, 1.0, found.NameSimilarity)
	assert.InDelta(t, 1.0, found.Confidence, 1e-9)
	// 3 source fields x 3 target fields
	assert.Len(t, candidates, 9)
}

func TestDetectFindsJoinKey(t *testing.T) {
	sampler := linkedSampler(60)
	d := NewDetector(DefaultConfig(), testAgents, sampler, nil, zaptest.NewLogger(t))

	s, err := d.Detect(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "customer id", s.JoinKey)
	assert.Equal(t, "customer id", s.TargetKey)
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	assert.Equal(t, "Suggested join key for Ledger (customer id) to Support (customer id)", s.Description)
	assert.Equal(t, []int{100, 100}, sampler.limits)
}

func TestDetectInconclusive(t *testing.T) {
	sampler := &fakeSampler{points: map[string][]vectordb.Point{
		"ledger":  points(10, func(i int) map[string]interface{} { return map[string]interface{}{"invoice": fmt.Sprint("I", i)} }),
		"support": points(10, func(i int) map[string]interface{} { return map[string]interface{}{"ticket": fmt.Sprint("T", i)} }),
	}}
	d := NewDetector(DefaultConfig(), testAgents, sampler, nil, zaptest.NewLogger(t))

	s, err := d.Detect(context.Background(), 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestDetectEmptySample(t *testing.T) {
	sampler := linkedSampler(3)
	sampler.points["support"] = nil
	d := NewDetector(DefaultConfig(), testAgents, sampler, nil, zaptest.NewLogger(t))

	s, err := d.Detect(context.Background(), 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestDetectCollaboratorErrors(t *testing.T) {
	d := NewDetector(DefaultConfig(), testAgents, &fakeSampler{err: errors.New("qdrant unavailable")}, nil, zaptest.NewLogger(t))
	_, err := d.Detect(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "qdrant unavailable")

	_, err = d.Detect(context.Background(), 1, 99)
	assert.ErrorContains(t, err, "target agent")
}

func TestDetectAndStoreUpserts(t *testing.T) {
	rels := &fakeRelations{}
	d := NewDetector(Config{SampleSize: 20}, testAgents, linkedSampler(20), rels, zaptest.NewLogger(t))

	s, err := d.DetectAndStore(context.Background(), 1, 2)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Len(t, rels.stored, 1)
	assert.Equal(t, models.Relation{
		SourceAgentID: 1,
		TargetAgentID: 2,
		JoinKey:       "customer id",
		Description:   s.Description,
		Confidence:    s.Confidence,
	}, rels.stored[0])
}

func TestDetectAndStoreSkipsInconclusive(t *testing.T) {
	rels := &fakeRelations{}
	sampler := linkedSampler(5)
	sampler.points["ledger"] = nil
	d := NewDetector(DefaultConfig(), testAgents, sampler, rels, zaptest.NewLogger(t))

	s, err := d.DetectAndStore(context.Background(), 1, 2)
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, rels.stored)
}

func TestDetectAndStoreFailure(t *testing.T) {
	rels := &fakeRelations{err: errors.New("unique violation")}
	d := NewDetector(DefaultConfig(), testAgents, linkedSampler(5), rels, zaptest.NewLogger(t))
	_, err := d.DetectAndStore(context.Background(), 1, 2)
	assert.ErrorContains(t, err, "unique violation")
}
