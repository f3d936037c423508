package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of a counter family whose labels include want
func counterValue(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if labels[k] != v {
					match = false
					break
				}
			}
			if match {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func histogramCount(t *testing.T, name string, want map[string]string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var total uint64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := true
			for _, lp := range m.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
					match = false
				}
			}
			if match {
				total += m.GetHistogram().GetSampleCount()
			}
		}
	}
	return total
}

func TestRecordQueryMetrics(t *testing.T) {
	labels := map[string]string{"strategy": "chained", "status": "success"}
	before := counterValue(t, "multiagent_queries_total", labels)
	observed := histogramCount(t, "multiagent_query_duration_seconds", map[string]string{"strategy": "chained"})

	RecordQueryMetrics("chained", "success", 1.5)
	RecordQueryMetrics("chained", "success", 0)

	assert.Equal(t, before+2, counterValue(t, "multiagent_queries_total", labels))
	assert.Equal(t, observed+1, histogramCount(t, "multiagent_query_duration_seconds", map[string]string{"strategy": "chained"}))
}

func TestRecordAgentCall(t *testing.T) {
	labels := map[string]string{"strategy": "broadcast", "status": "error"}
	before := counterValue(t, "multiagent_agent_calls_total", labels)
	RecordAgentCall("broadcast", "error", 0.2)
	assert.Equal(t, before+1, counterValue(t, "multiagent_agent_calls_total", labels))
}

func TestRecordAdapterMetrics(t *testing.T) {
	emb := map[string]string{"model": "m", "status": "cache_hit"}
	before := counterValue(t, "multiagent_embedding_requests_total", emb)
	latency := histogramCount(t, "multiagent_embedding_latency_seconds", map[string]string{"model": "m"})
	RecordEmbeddingMetrics("m", "cache_hit", 0)
	assert.Equal(t, before+1, counterValue(t, "multiagent_embedding_requests_total", emb))
	assert.Equal(t, latency, histogramCount(t, "multiagent_embedding_latency_seconds", map[string]string{"model": "m"}))

	comp := map[string]string{"model": "m", "status": "success"}
	before = counterValue(t, "multiagent_completion_requests_total", comp)
	RecordCompletionMetrics("m", "success", 0.4)
	assert.Equal(t, before+1, counterValue(t, "multiagent_completion_requests_total", comp))
}
