package strategies

import (
	"strings"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/multiagent/contextmgr"
)

// broadcastThreshold is the agent count above which Broadcast is chosen
const broadcastThreshold = 3

// Select picks a strategy from the relations signal and the agent count.
// It never calls out and is deterministic.
func Select(agents []models.Agent, mgr *contextmgr.Manager) Kind {
	if len(mgr.Relations()) > 0 {
		return KindChained
	}
	if len(agents) > broadcastThreshold {
		return KindBroadcast
	}
	return KindDirect
}

// ParseHint normalizes a caller hint. An omitted hint is "auto"; unknown
// hints map to Direct.
func ParseHint(hint string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(hint))); k {
	case "":
		return KindAuto
	case KindDirect, KindBroadcast, KindChained, KindAuto:
		return k
	default:
		return KindDirect
	}
}

// Resolve returns the strategy to run: an explicit hint wins, "auto" defers
// to Select.
func Resolve(hint string, agents []models.Agent, mgr *contextmgr.Manager) Kind {
	k := ParseHint(hint)
	source := "hint"
	if k == KindAuto {
		k = Select(agents, mgr)
		source = "selector"
	}
	metrics.StrategySelections.WithLabelValues(string(k), source).Inc()
	return k
}
