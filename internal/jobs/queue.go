// Package jobs runs background work over a Redis Stream consumer group.
// Join-key detection is enqueued here so that creating a multi-agent does
// not wait on sampling the vector store.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const envelopeField = "envelope"

// Config controls the stream and consumer group
type Config struct {
	Stream      string        `mapstructure:"stream"`
	Group       string        `mapstructure:"group"`
	Block       time.Duration `mapstructure:"block"`
	Count       int64         `mapstructure:"count"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxLen      int64         `mapstructure:"max_len"`
	// ClaimIdle is how long a delivered entry may stay unacknowledged before
	// another consumer takes it over
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
}

// DefaultConfig returns the default stream settings
func DefaultConfig() Config {
	return Config{
		Stream:      "multiagent:jobs",
		Group:       "multiagent-workers",
		Block:       5 * time.Second,
		Count:       10,
		MaxAttempts: 3,
		MaxLen:      10000,
		ClaimIdle:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Stream == "" {
		c.Stream = def.Stream
	}
	if c.Group == "" {
		c.Group = def.Group
	}
	if c.Block == 0 {
		c.Block = def.Block
	}
	if c.Count <= 0 {
		c.Count = def.Count
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = def.ClaimIdle
	}
	return c
}

// Envelope is the stream entry for one job
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Data       json.RawMessage `json:"data"`
}

// Message is a job read from the stream
type Message struct {
	StreamID string
	Envelope Envelope
}

// Queue publishes and reads job envelopes
type Queue struct {
	client *redis.Client
	cfg    Config
}

// NewQueue creates a queue on the configured stream
func NewQueue(client *redis.Client, cfg Config) *Queue {
	return &Queue{client: client, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration
func (q *Queue) Config() Config {
	return q.cfg
}

// EnsureGroup creates the consumer group, and the stream if needed
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Enqueue appends a job of the given type
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       jobType,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
		Data:       data,
	}
	if _, err := q.publish(ctx, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

func (q *Queue) publish(ctx context.Context, env Envelope) (string, error) {
	if env.Type == "" {
		return "", errors.New("job type is required")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{envelopeField: string(raw)},
	}
	if q.cfg.MaxLen > 0 {
		args.MaxLen = q.cfg.MaxLen
		args.Approx = true
	}
	id, err := q.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Read pulls new entries for consumer. Undecodable entries are acked and dropped.
func (q *Queue) Read(ctx context.Context, consumer string) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    q.cfg.Count,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Message
	for _, st := range streams {
		out = append(out, q.messages(ctx, st.Messages)...)
	}
	return out, nil
}

// Claim takes over entries that another consumer received but has not
// acknowledged within ClaimIdle, e.g. because it crashed mid-job.
func (q *Queue) Claim(ctx context.Context, consumer string) ([]Message, error) {
	var out []Message
	start := "0-0"
	for int64(len(out)) < q.cfg.Count {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: consumer,
			MinIdle:  q.cfg.ClaimIdle,
			Start:    start,
			Count:    q.cfg.Count - int64(len(out)),
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return out, nil
			}
			return out, fmt.Errorf("xautoclaim: %w", err)
		}
		out = append(out, q.messages(ctx, msgs)...)
		if next == "0-0" || next == "" || len(msgs) == 0 {
			break
		}
		start = next
	}
	return out, nil
}

func (q *Queue) messages(ctx context.Context, msgs []redis.XMessage) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		env, err := decode(msg)
		if err != nil {
			_ = q.Ack(ctx, msg.ID)
			continue
		}
		out = append(out, Message{StreamID: msg.ID, Envelope: env})
	}
	return out
}

// Ack acknowledges processed entries
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Retry republishes env with its attempt counter bumped. It reports false
// once the envelope has used all of its attempts.
func (q *Queue) Retry(ctx context.Context, env Envelope) (bool, error) {
	if env.Attempt >= q.cfg.MaxAttempts {
		return false, nil
	}
	env.Attempt++
	if _, err := q.publish(ctx, env); err != nil {
		return false, err
	}
	return true, nil
}

// Pending returns the number of delivered but unacknowledged entries
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	res, err := q.client.XPending(ctx, q.cfg.Stream, q.cfg.Group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending: %w", err)
	}
	return res.Count, nil
}

func decode(msg redis.XMessage) (Envelope, error) {
	var env Envelope
	raw, ok := msg.Values[envelopeField]
	if !ok {
		return env, errors.New("missing envelope field")
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return env, fmt.Errorf("unexpected envelope type %T", raw)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
