package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/models"
)

func newTestQueue(t *testing.T, maxAttempts int) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewQueue(client, Config{Stream: "test:jobs", Group: "g", Block: -1, MaxAttempts: maxAttempts})
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, mr
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	assert.NoError(t, q.EnsureGroup(context.Background()))
}

func TestPollDispatchesAndAcks(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	var got DetectJoinKeys
	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle(TypeDetectJoinKeys, func(_ context.Context, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})

	id, err := EnqueueDetectJoinKeys(ctx, q, 4, 9)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, DetectJoinKeys{SourceAgentID: 4, TargetAgentID: 9}, got)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPollRetriesUntilAttemptsExhausted(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	var attempts []int
	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle("flaky", func(context.Context, json.RawMessage) error {
		attempts = append(attempts, len(attempts)+1)
		return errors.New("vector store timeout")
	})

	_, err := q.Enqueue(ctx, "flaky", map[string]string{"k": "v"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := w.Poll(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestPollRetrySucceeds(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	calls := 0
	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle("flaky", func(context.Context, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("temporary")
		}
		return nil
	})
	_, err := q.Enqueue(ctx, "flaky", nil)
	require.NoError(t, err)

	_, err = w.Poll(ctx)
	require.NoError(t, err)
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)
}

func TestPermanentFailuresAreNotRetried(t *testing.T) {
	q, _ := newTestQueue(t, 5)
	ctx := context.Background()

	calls := 0
	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle("bad", func(context.Context, json.RawMessage) error {
		calls++
		return ErrPermanent
	})
	w.Handle("panics", func(context.Context, json.RawMessage) error {
		panic("boom")
	})

	for _, typ := range []string{"bad", "panics", "unregistered"} {
		_, err := q.Enqueue(ctx, typ, nil)
		require.NoError(t, err)
	}
	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, calls)
}

func TestReadDropsUndecodableEntries(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:jobs",
		Values: map[string]interface{}{"other": "x"},
	}).Err())
	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:jobs",
		Values: map[string]interface{}{envelopeField: "{not json"},
	}).Err())

	msgs, err := q.Read(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestEnqueuePairwise(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	ids, err := EnqueuePairwise(ctx, q, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, ids, 6)

	msgs, err := q.Read(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	var first DetectJoinKeys
	require.NoError(t, json.Unmarshal(msgs[0].Envelope.Data, &first))
	assert.Equal(t, DetectJoinKeys{SourceAgentID: 1, TargetAgentID: 2}, first)
	assert.Equal(t, 1, msgs[0].Envelope.Attempt)
}

func TestEnqueueRequiresType(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	_, err := q.Enqueue(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle("stop", func(context.Context, json.RawMessage) error {
		cancel()
		return nil
	})
	_, err := q.Enqueue(ctx, "stop", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type fakeDetector struct {
	suggestion *models.JoinKeySuggestion
	err        error
	calls      [][2]int64
}

func (f *fakeDetector) DetectAndStore(_ context.Context, s, t int64) (*models.JoinKeySuggestion, error) {
	f.calls = append(f.calls, [2]int64{s, t})
	return f.suggestion, f.err
}

func TestDetectJoinKeysHandler(t *testing.T) {
	ctx := context.Background()
	det := &fakeDetector{suggestion: &models.JoinKeySuggestion{JoinKey: "customer id", TargetKey: "customer id", Confidence: 0.9}}
	h := NewDetectJoinKeysHandler(det, zaptest.NewLogger(t))

	require.NoError(t, h(ctx, json.RawMessage(`{"source_agent_id":1,"target_agent_id":2}`)))
	assert.Equal(t, [][2]int64{{1, 2}}, det.calls)

	det.suggestion = nil
	assert.NoError(t, h(ctx, json.RawMessage(`{"source_agent_id":2,"target_agent_id":1}`)))

	det.err = errors.New("qdrant down")
	err := h(ctx, json.RawMessage(`{"source_agent_id":2,"target_agent_id":1}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanent))
}

func TestDetectJoinKeysHandlerRejectsBadPayloads(t *testing.T) {
	h := NewDetectJoinKeysHandler(&fakeDetector{}, zaptest.NewLogger(t))
	for _, raw := range []string{`not json`, `{"source_agent_id":1}`, `{"source_agent_id":3,"target_agent_id":3}`} {
		err := h(context.Background(), json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrPermanent, raw)
	}
}

func TestPollReclaimsStaleDeliveries(t *testing.T) {
	q, mr := newTestQueue(t, 3)
	ctx := context.Background()

	_, err := EnqueueDetectJoinKeys(ctx, q, 2, 5)
	require.NoError(t, err)

	// a consumer receives the job and dies before acking it
	delivered, err := q.Read(ctx, "worker-crashed")
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	var got []DetectJoinKeys
	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle(TypeDetectJoinKeys, func(_ context.Context, data json.RawMessage) error {
		var job DetectJoinKeys
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		got = append(got, job)
		return nil
	})

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "entry is not idle long enough to be taken over")
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	mr.SetTime(time.Now().Add(q.Config().ClaimIdle + time.Minute))

	n, err = w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []DetectJoinKeys{{SourceAgentID: 2, TargetAgentID: 5}}, got)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestProcessAcksAfterShutdown(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := q.Enqueue(ctx, "slow", map[string]int{"n": 1})
	require.NoError(t, err)

	w := NewWorker(q, zaptest.NewLogger(t))
	w.Handle("slow", func(context.Context, json.RawMessage) error {
		cancel()
		return nil
	})

	n, err := w.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestClaimIdleDefault(t *testing.T) {
	assert.Equal(t, time.Minute, NewQueue(nil, Config{}).Config().ClaimIdle)
	assert.Equal(t, 5*time.Second, NewQueue(nil, Config{ClaimIdle: 5 * time.Second}).Config().ClaimIdle)
}
