package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

// TypeDetectJoinKeys detects and stores the join key between two agents
const TypeDetectJoinKeys = "detect_join_keys"

// DetectJoinKeys is the payload of a TypeDetectJoinKeys job
type DetectJoinKeys struct {
	SourceAgentID int64 `json:"source_agent_id"`
	TargetAgentID int64 `json:"target_agent_id"`
}

// JoinKeyDetector is satisfied by *joinkey.Detector
type JoinKeyDetector interface {
	DetectAndStore(ctx context.Context, sourceID, targetID int64) (*models.JoinKeySuggestion, error)
}

// EnqueueDetectJoinKeys schedules detection for a source and target agent
func EnqueueDetectJoinKeys(ctx context.Context, q *Queue, sourceID, targetID int64) (string, error) {
	return q.Enqueue(ctx, TypeDetectJoinKeys, DetectJoinKeys{SourceAgentID: sourceID, TargetAgentID: targetID})
}

// EnqueuePairwise schedules detection for every ordered pair of distinct agents
func EnqueuePairwise(ctx context.Context, q *Queue, agentIDs []int64) ([]string, error) {
	var ids []string
	for _, s := range agentIDs {
		for _, t := range agentIDs {
			if s == t {
				continue
			}
			id, err := EnqueueDetectJoinKeys(ctx, q, s, t)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// NewDetectJoinKeysHandler runs detection and stores the suggestion.
// An inconclusive result is logged and counts as success.
func NewDetectJoinKeysHandler(detector JoinKeyDetector, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, data json.RawMessage) error {
		var p DetectJoinKeys
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
		}
		if p.SourceAgentID == 0 || p.TargetAgentID == 0 || p.SourceAgentID == p.TargetAgentID {
			return fmt.Errorf("%w: invalid agent pair %d -> %d", ErrPermanent, p.SourceAgentID, p.TargetAgentID)
		}

		suggestion, err := detector.DetectAndStore(ctx, p.SourceAgentID, p.TargetAgentID)
		if err != nil {
			return err
		}
		if suggestion == nil {
			logger.Info("No join key detected",
				zap.Int64("source_agent_id", p.SourceAgentID),
				zap.Int64("target_agent_id", p.TargetAgentID),
			)
			return nil
		}
		logger.Info("Join key detected",
			zap.Int64("source_agent_id", p.SourceAgentID),
			zap.Int64("target_agent_id", p.TargetAgentID),
			zap.String("join_key", suggestion.JoinKey),
			zap.String("target_key", suggestion.TargetKey),
			zap.Float64("confidence", suggestion.Confidence),
		)
		return nil
	}
}
