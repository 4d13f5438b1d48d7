package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/models"
)

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		QueuePrefix:      "zapflow",
		DeadLetterPrefix: "zapflow:dlq",
		RetryDelays: []time.Duration{
			5 * time.Second, 15 * time.Second, 45 * time.Second, 90 * time.Second,
		},
		MaxAttempts:   5,
		DeadLetterTTL: time.Hour,
	}
}

func newTestGateway(t *testing.T) (*Gateway, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	cacheClient := cache.NewClientFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	m := metrics.New(prometheus.NewRegistry())
	return NewGateway(cacheClient, testQueueConfig(), m), m
}

func testJob(id string, tenantID int64) *models.QueueJob {
	return &models.QueueJob{
		ID:            id,
		TenantID:      tenantID,
		Number:        "5511999999999",
		Text:          "oi",
		Kind:          models.KindText,
		CorrelationID: "corr-" + id,
		MaxAttempts:   5,
		EnqueuedAt:    time.Now(),
	}
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Enqueue(ctx, testJob("j1", 1)))

	job, err := g.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, int64(1), job.TenantID)
	assert.Equal(t, models.KindText, job.Kind)
}

func TestDequeueEmptyRegistry(t *testing.T) {
	g, _ := newTestGateway(t)

	job, err := g.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeuePreservesFIFOOrder(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Enqueue(ctx, testJob("first", 1)))
	require.NoError(t, g.Enqueue(ctx, testJob("second", 1)))

	job, err := g.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "first", job.ID)
}

func TestRetryDelaySchedule(t *testing.T) {
	g, _ := newTestGateway(t)

	assert.Equal(t, 5*time.Second, g.RetryDelay(1))
	assert.Equal(t, 15*time.Second, g.RetryDelay(2))
	assert.Equal(t, 45*time.Second, g.RetryDelay(3))
	assert.Equal(t, 90*time.Second, g.RetryDelay(4))
	// Attempts beyond the schedule reuse the last interval.
	assert.Equal(t, 90*time.Second, g.RetryDelay(9))
}

func TestEnqueueDelayedWaitsForSchedule(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.EnqueueDelayed(ctx, testJob("later", 1), time.Hour))

	moved, err := g.MoveDueJobs(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)

	// A job whose delay already elapsed moves on the next tick.
	require.NoError(t, g.EnqueueDelayed(ctx, testJob("now", 1), -time.Second))
	moved, err = g.MoveDueJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	job, err := g.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "now", job.ID)
}

func TestDeadLetterIsIdempotent(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	job := testJob("dead", 1)
	require.NoError(t, g.DeadLetter(ctx, job, "gateway status 422"))
	assert.True(t, job.DeadLettered)

	// A second routing of the same job is a no-op.
	require.NoError(t, g.DeadLetter(ctx, job, "another reason"))

	ids := g.rdb.SMembers(ctx, g.deadLetterSetKey(1)).Val()
	assert.Equal(t, []string{"dead"}, ids)
}

func TestRequeueFromDeadLetter(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	job := testJob("dead", 1)
	job.Attempt = 4
	require.NoError(t, g.DeadLetter(ctx, job, "retries exhausted"))

	requeued, err := g.RequeueFromDeadLetter(ctx, "dead")
	require.NoError(t, err)
	assert.Zero(t, requeued.Attempt)
	assert.False(t, requeued.DeadLettered)
	assert.True(t, requeued.ReprocessedFromDeadLetter)
	assert.Equal(t, "corr-dead", requeued.CorrelationID)

	// The payload is back on the primary queue and gone from the store.
	fromQueue, err := g.Dequeue(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, fromQueue)
	assert.Equal(t, "dead", fromQueue.ID)

	_, err = g.RequeueFromDeadLetter(ctx, "dead")
	assert.ErrorIs(t, err, ErrDeadLetterNotFound)
}

func TestRequeueUnknownID(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.RequeueFromDeadLetter(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDeadLetterNotFound)
}

func TestUpdateDepthGauges(t *testing.T) {
	g, m := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.Enqueue(ctx, testJob("a", 1)))
	require.NoError(t, g.Enqueue(ctx, testJob("b", 1)))
	require.NoError(t, g.DeadLetter(ctx, testJob("c", 1), "boom"))

	require.NoError(t, g.UpdateDepthGauges(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueSize.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetterQueueSize.WithLabelValues("1")))
}
