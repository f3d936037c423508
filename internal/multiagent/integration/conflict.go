package integration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// DefaultConfidence applies when an agent reported no confidence
const DefaultConfidence = 0.5

var totalAmountPattern = regexp.MustCompile(`(?i)Total amount[^:]*: \$([\d,.]+)`)

// Lookuper resolves dotted paths in the query context
type Lookuper interface {
	Lookup(path string, def interface{}) interface{}
}

// ConflictResolver reconciles agents that report different totals.
//
// The policy is highest-confidence-wins, not majority vote: among responses
// carrying a "Total amount ...: $N" claim only those with the maximum
// confidence survive, ties included. Responses without a claim pass through.
// Output keeps input order.
type ConflictResolver struct {
	logger *zap.Logger
}

// NewConflictResolver creates a resolver
func NewConflictResolver(logger *zap.Logger) *ConflictResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictResolver{logger: logger}
}

type numericClaim struct {
	index      int
	value      float64
	confidence float64
}

// Resolve applies the policy to responses using confidences found in lookup
func (r *ConflictResolver) Resolve(responses []models.AgentResponse, lookup Lookuper) []models.AgentResponse {
	if len(responses) == 0 {
		return []models.AgentResponse{}
	}

	var claims []numericClaim
	keep := make([]bool, len(responses))
	for i, resp := range responses {
		value, ok := ExtractTotal(resp.Text())
		if !ok {
			keep[i] = true
			continue
		}
		claims = append(claims, numericClaim{index: i, value: value, confidence: confidenceOf(resp, lookup)})
	}

	if len(claims) > 0 {
		best := claims[0].confidence
		for _, c := range claims[1:] {
			if c.confidence > best {
				best = c.confidence
			}
		}
		var chosen []string
		for _, c := range claims {
			if c.confidence == best {
				keep[c.index] = true
				chosen = append(chosen, responses[c.index].AgentName)
			}
		}
		r.logConflict(claims, chosen)
	}

	out := make([]models.AgentResponse, 0, len(responses))
	for i, resp := range responses {
		if keep[i] {
			out = append(out, resp)
		}
	}
	return out
}

func (r *ConflictResolver) logConflict(claims []numericClaim, chosen []string) {
	if len(claims) < 2 {
		return
	}
	values := make([]float64, len(claims))
	distinct := map[float64]struct{}{}
	for i, c := range claims {
		values[i] = c.value
		distinct[c.value] = struct{}{}
	}
	if len(distinct) > 1 {
		metrics.ConflictsDetected.Inc()
	}
	r.logger.Info("Resolved numeric conflict",
		zap.Float64s("values", values),
		zap.Strings("chosen", chosen),
	)
}

// ExtractTotal finds a "Total amount ...: $1,234.50" claim in text
func ExtractTotal(text string) (float64, bool) {
	m := totalAmountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimRight(strings.ReplaceAll(m[1], ",", ""), "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func confidenceOf(resp models.AgentResponse, lookup Lookuper) float64 {
	if lookup == nil {
		return DefaultConfidence
	}
	path := fmt.Sprintf("agent_%d_data.raw_details.confidence", resp.AgentID)
	return toFloat(lookup.Lookup(path, DefaultConfidence), DefaultConfidence)
}

func toFloat(v interface{}, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return def
}
