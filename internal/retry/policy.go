// Package retry wraps calls to external collaborators (completion, embedding)
// in a configurable exponential-backoff policy.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/metrics"
)

// Policy describes an exponential backoff schedule
type Policy struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`
	// MaxRetries bounds retries after the first attempt; 0 disables retrying
	MaxRetries int `mapstructure:"max_retries"`
}

// DefaultPolicy allows three attempts in total, doubling the delay each time
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
		MaxElapsedTime:      30 * time.Second,
		MaxRetries:          2,
	}
}

// Classifier reports whether err is worth retrying
type Classifier func(err error) bool

// Retryable marks an error as transient regardless of the classifier
type Retryable interface {
	Temporary() bool
}

// DefaultClassifier retries network timeouts and errors that declare
// themselves temporary. Context cancellation is never retried.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t Retryable
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Retrier executes operations under a Policy
type Retrier struct {
	policy     Policy
	classifier Classifier
	logger     *zap.Logger
}

// New builds a Retrier. A nil classifier uses DefaultClassifier.
func New(policy Policy, classifier Classifier, logger *zap.Logger) *Retrier {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, classifier: classifier, logger: logger}
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		eb.MaxInterval = r.policy.MaxInterval
	}
	if r.policy.Multiplier > 0 {
		eb.Multiplier = r.policy.Multiplier
	}
	eb.RandomizationFactor = r.policy.RandomizationFactor
	eb.MaxElapsedTime = r.policy.MaxElapsedTime
	eb.Reset()

	var b backoff.BackOff = eb
	if r.policy.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(r.policy.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The last error from op is returned unwrapped.
func (r *Retrier) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	if r == nil {
		return op(ctx)
	}
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.classifier(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		metrics.RetryAttempts.WithLabelValues(operation).Inc()
		r.logger.Warn("Retrying external call",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	return err
}
