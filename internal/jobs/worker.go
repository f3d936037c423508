package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
)

// Handler processes the payload of one job type
type Handler func(ctx context.Context, data json.RawMessage) error

// ErrPermanent marks a failure that must not be retried
var ErrPermanent = errors.New("permanent job failure")

// Worker consumes jobs from a Queue and dispatches them by type
type Worker struct {
	queue    *Queue
	name     string
	handlers map[string]Handler
	logger   *zap.Logger
	backoff  time.Duration
}

// NewWorker creates a worker with a unique consumer name
func NewWorker(queue *Queue, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := "worker-" + uuid.NewString()[:8]
	return &Worker{
		queue:    queue,
		name:     name,
		handlers: map[string]Handler{},
		logger:   logger.With(zap.String("consumer", name)),
		backoff:  time.Second,
	}
}

// Name returns the consumer name
func (w *Worker) Name() string {
	return w.name
}

// Handle registers h for jobType
func (w *Worker) Handle(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run polls until ctx is cancelled. Read errors back off instead of exiting.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("Job worker started",
		zap.String("stream", w.queue.cfg.Stream),
		zap.String("group", w.queue.cfg.Group),
	)
	for {
		if ctx.Err() != nil {
			w.logger.Info("Job worker stopped")
			return nil
		}
		if _, err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("Job poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(w.backoff):
			}
		}
	}
}

// Poll first takes over stale entries left by other consumers, then reads
// new ones. It returns the number of jobs handled.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	claimed, err := w.queue.Claim(ctx, w.name)
	if err != nil {
		w.logger.Warn("Reclaiming stale jobs failed", zap.Error(err))
	} else if len(claimed) > 0 {
		w.logger.Info("Reclaimed stale jobs", zap.Int("count", len(claimed)))
	}
	for _, msg := range claimed {
		w.process(ctx, msg)
	}

	msgs, err := w.queue.Read(ctx, w.name)
	if err != nil {
		return len(claimed), err
	}
	for _, msg := range msgs {
		w.process(ctx, msg)
	}
	return len(claimed) + len(msgs), nil
}

func (w *Worker) process(ctx context.Context, msg Message) {
	env := msg.Envelope
	logger := w.logger.With(
		zap.String("job_id", env.ID),
		zap.String("job_type", env.Type),
		zap.Int("attempt", env.Attempt),
	)

	// retry and ack still go out when shutdown cancels ctx mid-job
	settle := context.WithoutCancel(ctx)

	status := "completed"
	err := w.dispatch(ctx, env)
	if err != nil {
		status = "failed"
		if errors.Is(err, ErrPermanent) {
			logger.Error("Job failed permanently", zap.Error(err))
		} else if retried, rerr := w.queue.Retry(settle, env); rerr != nil {
			logger.Error("Job retry enqueue failed", zap.Error(err), zap.NamedError("retry_error", rerr))
		} else if retried {
			status = "retried"
			logger.Warn("Job failed, retrying", zap.Error(err))
		} else {
			logger.Error("Job exhausted attempts", zap.Error(err))
		}
	} else {
		logger.Debug("Job completed")
	}
	metrics.JobsProcessed.WithLabelValues(env.Type, status).Inc()

	if err := w.queue.Ack(settle, msg.StreamID); err != nil {
		logger.Warn("Failed to ack job", zap.Error(err))
	}
}

func (w *Worker) dispatch(ctx context.Context, env Envelope) (err error) {
	h, ok := w.handlers[env.Type]
	if !ok {
		return fmt.Errorf("%w: no handler for %q", ErrPermanent, env.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, r)
		}
	}()
	return h(ctx, env.Data)
}
