package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/pkg/cache"
)

func newTestBreaker(t *testing.T, threshold int, reset time.Duration) (*Breaker, *cache.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cacheClient := cache.NewClientFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewBreaker(cacheClient, threshold, reset), cacheClient
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, 1)
		allowed, err := b.Allow(ctx, 1)
		require.NoError(t, err)
		assert.True(t, allowed, "failure %d must not open the circuit", i+1)
	}

	b.RecordFailure(ctx, 1)
	allowed, err := b.Allow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreakerResetsAfterWindow(t *testing.T) {
	b, cacheClient := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	// Seed an open circuit whose window has already elapsed.
	require.NoError(t, cacheClient.Redis().HSet(ctx, cache.CircuitKey(1),
		"failures", 3,
		"opened_at", time.Now().Add(-2*time.Minute).Unix(),
	).Err())

	allowed, err := b.Allow(ctx, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	// The expired state is dropped on the way through, so the next
	// failure starts counting from zero.
	exists := cacheClient.Redis().Exists(ctx, cache.CircuitKey(1)).Val()
	assert.Zero(t, exists)
}

func TestBreakerConcurrentFailuresAllCount(t *testing.T) {
	const workers = 8
	b, cacheClient := newTestBreaker(t, workers, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure(ctx, 1)
		}()
	}
	wg.Wait()

	failures, err := cacheClient.Redis().HGet(ctx, cache.CircuitKey(1), "failures").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(workers), failures, "no increment may be lost")

	allowed, err := b.Allow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestBreakerSuccessClears(t *testing.T) {
	b, cacheClient := newTestBreaker(t, 1, time.Minute)
	ctx := context.Background()

	b.RecordFailure(ctx, 1)
	allowed, err := b.Allow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	b.RecordSuccess(ctx, 1)
	allowed, err = b.Allow(ctx, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	exists := cacheClient.Redis().Exists(ctx, cache.CircuitKey(1)).Val()
	assert.Zero(t, exists)
}
