package redisstream

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
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func testConsumerConfig() ConsumerConfig {
	cfg := DefaultConsumerConfig()
	cfg.BlockTimeout = 50 * time.Millisecond
	cfg.ErrorSleep = 10 * time.Millisecond
	cfg.RecoveryInterval = 50 * time.Millisecond
	cfg.RecoveryMinIdle = 50 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// readOne pulls the next unseen entry for the stage group.
func readOne(t *testing.T, rdb *redis.Client, c *Consumer) redis.XMessage {
	t.Helper()
	res, err := rdb.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    c.stage.Group,
		Consumer: c.consumer,
		Streams:  []string{c.stage.Stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Messages, 1)
	return res[0].Messages[0]
}

func pendingCount(t *testing.T, rdb *redis.Client, stage Stage) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), stage.Stream, stage.Group).Result()
	require.NoError(t, err)
	return p.Count
}

func TestProducerEnqueue(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	p := NewProducer(rdb, StageL1)
	jobID, err := p.EnqueueWithAction(ctx, "shop-a.example.com", "index.urls", map[string]string{"shop": "shop-a.example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	key := StageL1.EnvelopeKey(jobID)
	assert.Equal(t, StatusQueued, mr.HGet(key, "status"))
	assert.NotEmpty(t, mr.HGet(key, "created_at"))
	assert.JSONEq(t, `{"shop":"shop-a.example.com"}`, mr.HGet(key, "data"))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	entries, err := rdb.XRange(ctx, StageL1.Stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, jobID, entries[0].Values["job_id"])
	assert.Equal(t, "shop-a.example.com", entries[0].Values["shop"])
	assert.Equal(t, "index.urls", entries[0].Values["action"])
}

func TestEnvelopeLifecycle(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	env := NewEnvelopes(rdb, StageL2)

	require.NoError(t, env.Create(ctx, "job-1", []byte(`{"shop":"s"}`)))

	data, err := env.FetchData(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, `{"shop":"s"}`, string(data))

	err = env.MarkCompleted(ctx, "job-1", 1500*time.Millisecond, Completion{
		Message:       "done",
		URLsProcessed: 7,
		Extra:         map[string]string{"google_executed": "true"},
	})
	require.NoError(t, err)

	key := StageL2.EnvelopeKey("job-1")
	assert.Equal(t, StatusCompleted, mr.HGet(key, "status"))
	assert.Equal(t, "1.50", mr.HGet(key, "processing_time_seconds"))
	assert.Equal(t, "done", mr.HGet(key, "message"))
	assert.Equal(t, "7", mr.HGet(key, "urls_processed"))
	assert.Equal(t, "true", mr.HGet(key, "google_executed"))
	assert.Equal(t, StageL2.FinalTTL, mr.TTL(key))

	status, err := env.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestEnvelopeMarkFailedTruncatesError(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	env := NewEnvelopes(rdb, StageL1)

	require.NoError(t, env.Create(ctx, "job-2", []byte(`{}`)))

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, env.MarkFailed(ctx, "job-2", errors.New(string(long))))

	key := StageL1.EnvelopeKey("job-2")
	assert.Equal(t, StatusFailed, mr.HGet(key, "status"))
	assert.Len(t, mr.HGet(key, "error"), maxErrorLen)
	assert.NotEmpty(t, mr.HGet(key, "failed_at"))
}

func TestEnvelopeFetchGhost(t *testing.T) {
	_, rdb := newTestClient(t)
	env := NewEnvelopes(rdb, StageL3)

	_, err := env.FetchData(context.Background(), "never-created")
	assert.ErrorIs(t, err, ErrGhostJob)
}

func TestConsumerCompletesJob(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	handled := make(chan string, 1)
	c := NewConsumer(rdb, StageL1, HandlerFunc(func(_ context.Context, jobID string, data []byte) (Completion, error) {
		var payload map[string]string
		assert.NoError(t, json.Unmarshal(data, &payload))
		handled <- jobID
		return Completion{Message: "ok", URLsProcessed: 3}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	jobID, err := NewProducer(rdb, StageL1).Enqueue(ctx, "shop-a", map[string]string{"shop": "shop-a"})
	require.NoError(t, err)

	c.dispatch(ctx, readOne(t, rdb, c))
	c.wg.Wait()

	assert.Equal(t, jobID, <-handled)
	key := StageL1.EnvelopeKey(jobID)
	assert.Equal(t, StatusCompleted, mr.HGet(key, "status"))
	assert.Equal(t, "3", mr.HGet(key, "urls_processed"))
	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL1))
}

func TestConsumerRecordsFailureThenAcks(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	c := NewConsumer(rdb, StageL2, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		return Completion{}, errors.New("provider exploded")
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	jobID, err := NewProducer(rdb, StageL2).Enqueue(ctx, "shop-b", map[string]string{"shop": "shop-b"})
	require.NoError(t, err)

	c.dispatch(ctx, readOne(t, rdb, c))
	c.wg.Wait()

	key := StageL2.EnvelopeKey(jobID)
	assert.Equal(t, StatusFailed, mr.HGet(key, "status"))
	assert.Contains(t, mr.HGet(key, "error"), "provider exploded")
	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL2))
}

func TestConsumerDropsGhostJob(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	called := false
	c := NewConsumer(rdb, StageL1, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		called = true
		return Completion{}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	// Stream entry without a backing envelope.
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StageL1.Stream,
		Values: map[string]any{"job_id": "expired-job", "shop": "shop-c"},
	}).Err())

	c.dispatch(ctx, readOne(t, rdb, c))
	c.wg.Wait()

	assert.False(t, called)
	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL1))
}

func TestConsumerDropsInvalidPayload(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	called := false
	c := NewConsumer(rdb, StageL1, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		called = true
		return Completion{}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	env := NewEnvelopes(rdb, StageL1)
	require.NoError(t, env.Create(ctx, "bad-json", []byte("{not json")))
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StageL1.Stream,
		Values: map[string]any{"job_id": "bad-json", "shop": "shop-d"},
	}).Err())

	c.dispatch(ctx, readOne(t, rdb, c))
	c.wg.Wait()

	assert.False(t, called)
	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL1))
}

func TestConsumerDropsMessageWithoutJobID(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	c := NewConsumer(rdb, StageL1, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		return Completion{}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StageL1.Stream,
		Values: map[string]any{"shop": "shop-e"},
	}).Err())

	c.dispatch(ctx, readOne(t, rdb, c))
	c.wg.Wait()

	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL1))
}

func TestConsumerSetupGroupIdempotent(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	c := NewConsumer(rdb, StageL3, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		return Completion{}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))
	require.NoError(t, c.SetupGroup(ctx))
}

func TestRecoverPendingReclaimsIdleMessage(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()

	c := NewConsumer(rdb, StageL1, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		return Completion{Message: "recovered"}, nil
	}), testConsumerConfig())
	require.NoError(t, c.SetupGroup(ctx))

	jobID, err := NewProducer(rdb, StageL1).Enqueue(ctx, "shop-f", map[string]string{"shop": "shop-f"})
	require.NoError(t, err)

	// A different consumer reads the entry and dies before acking.
	_, err = rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    StageL1.Group,
		Consumer: "dead-consumer",
		Streams:  []string{StageL1.Stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), pendingCount(t, rdb, StageL1))

	// Make the message immediately eligible instead of waiting out the
	// production idle threshold.
	c.cfg.RecoveryMinIdle = 0
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, c.recoverPending(ctx))
	c.wg.Wait()

	assert.Equal(t, StatusCompleted, mr.HGet(StageL1.EnvelopeKey(jobID), "status"))
	assert.Equal(t, "recovered", mr.HGet(StageL1.EnvelopeKey(jobID), "message"))
	assert.Equal(t, int64(0), pendingCount(t, rdb, StageL1))
}

// failingReads delegates everything to the real client except XReadGroup,
// which always fails as if the broker connection dropped.
type failingReads struct {
	*redis.Client
}

func (f failingReads) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	cmd.SetErr(errors.New("connection refused"))
	return cmd
}

func TestConsumerRunExitsWhenBreakerTrips(t *testing.T) {
	_, rdb := newTestClient(t)

	cfg := testConsumerConfig()
	cfg.MaxConsecutiveErrors = 3
	c := NewConsumer(failingReads{rdb}, StageL1, HandlerFunc(func(context.Context, string, []byte) (Completion, error) {
		return Completion{}, nil
	}), cfg)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTooManyErrors)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after the error breaker tripped")
	}
}

func TestConsumerName(t *testing.T) {
	a := ConsumerName()
	b := ConsumerName()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}
