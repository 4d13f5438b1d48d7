package llm

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zapflow/zapflow/pkg/cache"
)

// Breaker short-circuits LLM calls for a tenant after repeated failures.
// State is shared across workers through the cache, so one open breaker
// stops all of the tenant's traffic until reset. There is no half-open
// state: the first call after the reset window proceeds without
// restriction.
//
// The circuit is a Redis hash: "failures" is bumped with HINCRBY so
// concurrent workers never lose increments, and "opened_at" is written
// with HSETNX so the reset window is anchored at the first threshold
// crossing.
type Breaker struct {
	cache     *cache.Client
	threshold int
	reset     time.Duration
}

const (
	circuitFailuresField = "failures"
	circuitOpenedAtField = "opened_at"
)

// NewBreaker creates a breaker that opens at threshold failures and
// closes reset after opening.
func NewBreaker(cacheClient *cache.Client, threshold int, reset time.Duration) *Breaker {
	return &Breaker{cache: cacheClient, threshold: threshold, reset: reset}
}

// Allow reports whether the tenant's circuit permits a call. An expired
// open circuit is deleted on the way through.
func (b *Breaker) Allow(ctx context.Context, tenantID int64) (bool, error) {
	key := cache.CircuitKey(tenantID)
	openedAt, err := b.cache.Redis().HGet(ctx, key, circuitOpenedAtField).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	ts, err := strconv.ParseInt(openedAt, 10, 64)
	if err != nil || time.Since(time.Unix(ts, 0)) >= b.reset {
		if err := b.cache.Delete(ctx, key); err != nil {
			slog.Warn("Circuit reset failed", "tenant_id", tenantID, "error", err)
		}
		return true, nil
	}
	return false, nil
}

// RecordFailure bumps the failure count and opens the circuit at the
// threshold.
func (b *Breaker) RecordFailure(ctx context.Context, tenantID int64) {
	key := cache.CircuitKey(tenantID)
	rdb := b.cache.Redis()

	failures, err := rdb.HIncrBy(ctx, key, circuitFailuresField, 1).Result()
	if err != nil {
		slog.Warn("Circuit write failed", "tenant_id", tenantID, "error", err)
		return
	}

	if failures >= int64(b.threshold) {
		opened, err := rdb.HSetNX(ctx, key, circuitOpenedAtField,
			strconv.FormatInt(time.Now().Unix(), 10)).Result()
		if err != nil {
			slog.Warn("Circuit open failed", "tenant_id", tenantID, "error", err)
		} else if opened {
			slog.Warn("LLM circuit opened", "tenant_id", tenantID, "failures", failures)
		}
	}

	// Keep the state around at least twice the reset window.
	if err := rdb.Expire(ctx, key, 2*b.reset).Err(); err != nil {
		slog.Warn("Circuit expire failed", "tenant_id", tenantID, "error", err)
	}
}

// RecordSuccess closes the circuit by deleting the state.
func (b *Breaker) RecordSuccess(ctx context.Context, tenantID int64) {
	if err := b.cache.Delete(ctx, cache.CircuitKey(tenantID)); err != nil {
		slog.Warn("Circuit clear failed", "tenant_id", tenantID, "error", err)
	}
}
