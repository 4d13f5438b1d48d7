// Package queue implements the Redis-backed job queue: per-tenant primary
// queues, a delayed-retry schedule and a dead-letter store, consumed by a
// worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/models"
)

// ErrDeadLetterNotFound signals an unknown or expired dead-letter job id.
var ErrDeadLetterNotFound = errors.New("dead letter job not found")

// Gateway owns all queue keys. Primary queues are per-tenant lists named
// "<prefix>:company_<tenant_id>"; delayed retries wait in a sorted set
// scored by ready time; dead-letter payloads live under the dead-letter
// prefix with a retention TTL.
type Gateway struct {
	rdb     *redis.Client
	cfg     config.QueueConfig
	metrics *metrics.Metrics
}

// NewGateway creates the queue gateway.
func NewGateway(cacheClient *cache.Client, cfg config.QueueConfig, m *metrics.Metrics) *Gateway {
	return &Gateway{rdb: cacheClient.Redis(), cfg: cfg, metrics: m}
}

func (g *Gateway) queueKey(tenantID int64) string {
	return fmt.Sprintf("%s:company_%d", g.cfg.QueuePrefix, tenantID)
}

func (g *Gateway) registryKey() string {
	return g.cfg.QueuePrefix + ":tenants"
}

func (g *Gateway) scheduledKey() string {
	return g.cfg.QueuePrefix + ":scheduled"
}

func (g *Gateway) deadLetterJobKey(jobID string) string {
	return g.cfg.DeadLetterPrefix + ":job:" + jobID
}

func (g *Gateway) deadLetterSetKey(tenantID int64) string {
	return fmt.Sprintf("%s:company_%d", g.cfg.DeadLetterPrefix, tenantID)
}

// Enqueue pushes a job onto its tenant's primary queue and registers the
// tenant so workers start polling the queue.
func (g *Gateway) Enqueue(ctx context.Context, job *models.QueueJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	pipe := g.rdb.TxPipeline()
	pipe.SAdd(ctx, g.registryKey(), job.TenantID)
	pipe.LPush(ctx, g.queueKey(job.TenantID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueDelayed parks a job until readyAt, when the scheduler moves it
// back onto the primary queue.
func (g *Gateway) EnqueueDelayed(ctx context.Context, job *models.QueueJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	err = g.rdb.ZAdd(ctx, g.scheduledKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return nil
}

// RetryDelay returns the wait before the given retry. attempt counts
// completed attempts, so the first retry uses the schedule's first entry;
// attempts beyond the schedule reuse the last interval.
func (g *Gateway) RetryDelay(attempt int) time.Duration {
	delays := g.cfg.RetryDelays
	if len(delays) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// Dequeue blocks up to timeout for a job from any registered tenant queue.
// Returns nil without error when no queue exists or the timeout elapses.
func (g *Gateway) Dequeue(ctx context.Context, timeout time.Duration) (*models.QueueJob, error) {
	tenants, err := g.rdb.SMembers(ctx, g.registryKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read tenant registry: %w", err)
	}
	if len(tenants) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(tenants))
	for _, raw := range tenants {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, g.queueKey(id))
	}

	res, err := g.rdb.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	// BRPOP returns [key, payload].
	var job models.QueueJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}

// MoveDueJobs transfers scheduled jobs whose delay has elapsed back onto
// their primary queues. Returns how many jobs moved.
func (g *Gateway) MoveDueJobs(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	due, err := g.rdb.ZRangeByScore(ctx, g.scheduledKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read scheduled jobs: %w", err)
	}

	moved := 0
	for _, payload := range due {
		var job models.QueueJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// Unparseable members would block the schedule forever.
			g.rdb.ZRem(ctx, g.scheduledKey(), payload)
			continue
		}

		pipe := g.rdb.TxPipeline()
		pipe.SAdd(ctx, g.registryKey(), job.TenantID)
		pipe.LPush(ctx, g.queueKey(job.TenantID), payload)
		pipe.ZRem(ctx, g.scheduledKey(), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("move job %s: %w", job.ID, err)
		}
		moved++
	}
	return moved, nil
}

// deadLetterEntry is the retained payload plus failure metadata.
type deadLetterEntry struct {
	Job      *models.QueueJob `json:"job"`
	Reason   string           `json:"reason"`
	FailedAt time.Time        `json:"failed_at"`
}

// DeadLetter stores the job and its failure reason for later inspection.
// Idempotent: a job already routed is not stored twice.
func (g *Gateway) DeadLetter(ctx context.Context, job *models.QueueJob, reason string) error {
	if job.DeadLettered {
		return nil
	}

	entry := deadLetterEntry{Job: job, Reason: reason, FailedAt: time.Now()}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", job.ID, err)
	}

	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, g.deadLetterJobKey(job.ID), payload, g.cfg.DeadLetterTTL)
	pipe.SAdd(ctx, g.deadLetterSetKey(job.TenantID), job.ID)
	pipe.Expire(ctx, g.deadLetterSetKey(job.TenantID), g.cfg.DeadLetterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead letter job %s: %w", job.ID, err)
	}

	job.DeadLettered = true
	return nil
}

// RequeueFromDeadLetter re-enqueues a dead-letter job on its primary queue
// with a fresh retry budget and the reprocessed marker, then deletes the
// dead-letter entry.
func (g *Gateway) RequeueFromDeadLetter(ctx context.Context, jobID string) (*models.QueueJob, error) {
	raw, err := g.rdb.Get(ctx, g.deadLetterJobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read dead letter %s: %w", jobID, err)
	}

	var entry deadLetterEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", jobID, err)
	}

	job := entry.Job
	job.Attempt = 0
	job.DeadLettered = false
	job.ReprocessedFromDeadLetter = true
	if err := g.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	pipe := g.rdb.TxPipeline()
	pipe.Del(ctx, g.deadLetterJobKey(jobID))
	pipe.SRem(ctx, g.deadLetterSetKey(job.TenantID), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("remove dead letter %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateDepthGauges refreshes the queue_size and dead_letter_queue_size
// series for every registered tenant.
func (g *Gateway) UpdateDepthGauges(ctx context.Context) error {
	tenants, err := g.rdb.SMembers(ctx, g.registryKey()).Result()
	if err != nil {
		return fmt.Errorf("read tenant registry: %w", err)
	}

	for _, raw := range tenants {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		depth, err := g.rdb.LLen(ctx, g.queueKey(id)).Result()
		if err != nil {
			return fmt.Errorf("queue depth for tenant %d: %w", id, err)
		}
		dlqDepth, err := g.rdb.SCard(ctx, g.deadLetterSetKey(id)).Result()
		if err != nil {
			return fmt.Errorf("dead letter depth for tenant %d: %w", id, err)
		}

		g.metrics.QueueSize.WithLabelValues(raw).Set(float64(depth))
		g.metrics.DeadLetterQueueSize.WithLabelValues(raw).Set(float64(dlqDepth))
	}
	return nil
}
