// Package ratelimit implements a Redis sliding-window rate limiter. Keys
// are tenant-scoped ZSETs of event timestamps, trimmed outside the window.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key inside a rolling window.
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
	keyTTL time.Duration
}

// NewLimiter creates a sliding-window limiter.
func NewLimiter(rdb *redis.Client, window, keyTTL time.Duration) *Limiter {
	return &Limiter{rdb: rdb, window: window, keyTTL: keyTTL}
}

// Check records an event for key and reports whether the rolling count
// stays within limit. The pipeline removes expired entries, adds the new
// event, reads cardinality, and extends the key TTL in one round trip.
func (l *Limiter) Check(ctx context.Context, key string, limit int) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-l.window)

	// Nanosecond member keeps concurrent events within the same
	// microsecond distinct.
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.keyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check %s: %w", key, err)
	}

	return card.Val() <= int64(limit), nil
}
