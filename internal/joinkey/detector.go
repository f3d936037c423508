// Package joinkey infers which payload field links the datasets of two
// agents by sampling their vector points and scoring every field pair on
// value overlap, name similarity and a chi-squared agreement score.
package joinkey

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/vectordb"
)

// AgentStore resolves agents by id
type AgentStore interface {
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
}

// RelationStore persists detected relations
type RelationStore interface {
	UpsertAgentRelation(ctx context.Context, rel models.Relation) error
}

// PointSampler reads a sample of payload-only points from a collection
type PointSampler interface {
	FetchPoints(ctx context.Context, collection string, limit int) ([]vectordb.Point, error)
}

// Config tunes detection
type Config struct {
	SampleSize int     `mapstructure:"sample_size"`
	Threshold  float64 `mapstructure:"threshold"`
}

// DefaultConfig samples 100 points and requires confidence above 0.75
func DefaultConfig() Config {
	return Config{SampleSize: 100, Threshold: 0.75}
}

// Detector suggests join keys between agents
type Detector struct {
	cfg       Config
	agents    AgentStore
	sampler   PointSampler
	relations RelationStore
	logger    *zap.Logger
}

// NewDetector creates a Detector. relations may be nil when only Detect is used.
func NewDetector(cfg Config, agents AgentStore, sampler PointSampler, relations RelationStore, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Detector{cfg: cfg, agents: agents, sampler: sampler, relations: relations, logger: logger}
}

// Detect returns the best join key from source to target, or nil when no
// field pair is confident enough. Errors are reserved for collaborator failures.
func (d *Detector) Detect(ctx context.Context, sourceID, targetID int64) (*models.JoinKeySuggestion, error) {
	ctx, span := tracing.StartSpan(ctx, "joinkey.detect",
		attribute.Int64("source_agent_id", sourceID),
		attribute.Int64("target_agent_id", targetID),
	)
	defer span.End()

	suggestion, err := d.detect(ctx, sourceID, targetID)
	switch {
	case err != nil:
		tracing.RecordError(span, err)
		metrics.JoinKeyDetections.WithLabelValues("error").Inc()
	case suggestion == nil:
		metrics.JoinKeyDetections.WithLabelValues("inconclusive").Inc()
	default:
		span.SetAttributes(attribute.String("join_key", suggestion.JoinKey))
		metrics.JoinKeyDetections.WithLabelValues("found").Inc()
	}
	return suggestion, err
}

func (d *Detector) detect(ctx context.Context, sourceID, targetID int64) (*models.JoinKeySuggestion, error) {
	source, err := d.agents.GetAgent(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source agent: %w", err)
	}
	target, err := d.agents.GetAgent(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target agent: %w", err)
	}

	logger := d.logger.With(
		zap.Int64("source_agent_id", sourceID),
		zap.Int64("target_agent_id", targetID),
	)

	sourcePoints, err := d.sampler.FetchPoints(ctx, source.VectorCollection, d.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", source.VectorCollection, err)
	}
	targetPoints, err := d.sampler.FetchPoints(ctx, target.VectorCollection, d.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", target.VectorCollection, err)
	}
	if len(sourcePoints) == 0 || len(targetPoints) == 0 {
		logger.Warn("Empty point sample, check vector store ingestion",
			zap.String("source_collection", source.VectorCollection),
			zap.Int("source_points", len(sourcePoints)),
			zap.String("target_collection", target.VectorCollection),
			zap.Int("target_points", len(targetPoints)),
		)
		return nil, nil
	}

	candidates := Score(sourcePoints, targetPoints)
	if len(candidates) == 0 {
		logger.Warn("No payload fields found in samples")
		return nil, nil
	}

	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		logger.Debug("Scored field pair",
			zap.String("source_field", c.SourceField),
			zap.String("target_field", c.TargetField),
			zap.Float64("name_similarity", c.NameSimilarity),
			zap.Float64("confidence", c.Confidence),
		)
		if c.Confidence > d.cfg.Threshold && (best == nil || c.Confidence > best.Confidence) {
			best = c
		}
	}
	if best == nil {
		logger.Info("No high-confidence field pair", zap.Int("candidates", len(candidates)))
		return nil, nil
	}

	return &models.JoinKeySuggestion{
		JoinKey:    best.SourceField,
		TargetKey:  best.TargetField,
		Confidence: best.Confidence,
		Description: fmt.Sprintf("Suggested join key for %s (%s) to %s (%s)",
			source.Name, best.SourceField, target.Name, best.TargetField),
	}, nil
}

// Score rates every (source field, target field) pair, source fields in
// outer order. Field names are normalized.
func Score(sourcePoints, targetPoints []vectordb.Point) []Candidate {
	src, tgt := newSample(sourcePoints), newSample(targetPoints)
	pointCount := src.points
	if tgt.points < pointCount {
		pointCount = tgt.points
	}

	targetValues := make(map[string]map[string]struct{}, len(tgt.order))
	for _, f := range tgt.order {
		targetValues[f] = tgt.values(f)
	}

	out := make([]Candidate, 0, len(src.order)*len(tgt.order))
	for _, sf := range src.order {
		sv := src.values(sf)
		for _, tf := range tgt.order {
			name := NameSimilarity(sf, tf)
			out = append(out, Candidate{
				SourceField:    sf,
				TargetField:    tf,
				NameSimilarity: name,
				Confidence:     Confidence(sv, targetValues[tf], name, pointCount),
			})
		}
	}
	return out
}

// DetectAndStore runs Detect and upserts a found suggestion as an agent relation
func (d *Detector) DetectAndStore(ctx context.Context, sourceID, targetID int64) (*models.JoinKeySuggestion, error) {
	suggestion, err := d.Detect(ctx, sourceID, targetID)
	if err != nil || suggestion == nil {
		return suggestion, err
	}
	if d.relations == nil {
		return nil, fmt.Errorf("no relation store configured")
	}

	start := time.Now()
	err = d.relations.UpsertAgentRelation(ctx, models.Relation{
		SourceAgentID: sourceID,
		TargetAgentID: targetID,
		JoinKey:       suggestion.JoinKey,
		Description:   suggestion.Description,
		Confidence:    suggestion.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("store suggestion: %w", err)
	}

	d.logger.Info("Stored join key suggestion",
		zap.Int64("source_agent_id", sourceID),
		zap.Int64("target_agent_id", targetID),
		zap.String("join_key", suggestion.JoinKey),
		zap.Float64("confidence", suggestion.Confidence),
		zap.Duration("store_duration", time.Since(start)),
	)
	return suggestion, nil
}
