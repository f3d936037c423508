package joinkey

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/util"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

const (
	prefixBoost = 0.2
	// largeSample switches to overlap heavy weights
	largeSample = 50
	chiWeight   = 0.1
)

// Candidate is one scored (source field, target field) pair
type Candidate struct {
	SourceField    string  `json:"source_field"`
	TargetField    string  `json:"target_field"`
	NameSimilarity float64 `json:"name_similarity"`
	Confidence     float64 `json:"confidence"`
}

// NameSimilarity compares two normalized field names: 1 for an exact match,
// otherwise 1 - levenshtein/maxLen plus a prefix boost, capped at 1.
func NameSimilarity(a, b string) float64 {
	a, b = util.NormalizeFieldName(a), util.NormalizeFieldName(b)
	if a == b {
		return 1.0
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0.0
	}
	sim := 1.0 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
		sim += prefixBoost
	}
	return math.Min(sim, 1.0)
}

// Jaccard returns |s ∩ t| / |s ∪ t| over value sets
func Jaccard(s, t map[string]struct{}) float64 {
	if len(s) == 0 && len(t) == 0 {
		return 0.0
	}
	inter := 0
	for v := range s {
		if _, ok := t[v]; ok {
			inter++
		}
	}
	union := len(s) + len(t) - inter
	return float64(inter) / float64(union)
}

// ChiSquaredScore maps the chi-squared statistic of two value sets to [0,1].
// The expected count of every value is the mean of its two observed counts,
// and the statistic is scaled by 1/10 before being inverted.
func ChiSquaredScore(s, t map[string]struct{}) float64 {
	all := make(map[string]struct{}, len(s)+len(t))
	for v := range s {
		all[v] = struct{}{}
	}
	for v := range t {
		all[v] = struct{}{}
	}

	chi := 0.0
	for v := range all {
		var os, ot float64
		if _, ok := s[v]; ok {
			os = 1
		}
		if _, ok := t[v]; ok {
			ot = 1
		}
		expected := (os + ot) / 2
		if expected > 0 {
			chi += (os-expected)*(os-expected)/expected + (ot-expected)*(ot-expected)/expected
		}
	}
	return math.Max(0.0, 1.0-math.Min(chi/10, 1.0))
}

// Confidence combines value overlap, name similarity and the chi-squared
// score. pointCount is the smaller of the two sample sizes.
func Confidence(s, t map[string]struct{}, nameSimilarity float64, pointCount int) float64 {
	overlapWeight, nameWeight := 0.6, 0.3
	if pointCount > largeSample {
		overlapWeight, nameWeight = 0.7, 0.2
	}
	c := Jaccard(s, t)*overlapWeight + nameSimilarity*nameWeight + ChiSquaredScore(s, t)*chiWeight
	return math.Min(c, 1.0)
}

// sample is the field view of a set of points. fields maps the normalized
// name to the raw payload keys that normalize to it, in first-seen order.
type sample struct {
	points int
	order  []string
	fields map[string][]string
	data   []map[string]interface{}
}

func newSample(points []vectordb.Point) *sample {
	s := &sample{points: len(points), fields: map[string][]string{}}
	for _, p := range points {
		if p.Payload == nil {
			continue
		}
		s.data = append(s.data, p.Payload)
		for _, raw := range sortedKeys(p.Payload) {
			norm := util.NormalizeFieldName(raw)
			if _, ok := s.fields[norm]; !ok {
				s.order = append(s.order, norm)
			}
			if !util.ContainsString(s.fields[norm], raw) {
				s.fields[norm] = append(s.fields[norm], raw)
			}
		}
	}
	return s
}

// values returns the non-empty stringified scalar values of a field
func (s *sample) values(norm string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, payload := range s.data {
		for _, raw := range s.fields[norm] {
			v, ok := payload[raw]
			if !ok {
				continue
			}
			if str, ok := scalarString(v); ok && str != "" {
				out[str] = struct{}{}
			}
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalarString(v interface{}) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		if x {
			return "1", true
		}
		return "", true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}
