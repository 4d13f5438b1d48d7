package queue

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/masking"
	"github.com/zapflow/zapflow/pkg/models"
)

// HeartbeatMaxAge is how stale a worker heartbeat may be before the
// health endpoint reports the pool degraded.
const HeartbeatMaxAge = 180 * time.Second

// Handler processes one dequeued job. A nil return acknowledges the job;
// an error sends it through the retry policy unless the handler already
// dead-lettered it.
type Handler interface {
	Process(ctx context.Context, job *models.QueueJob) error
}

// Pool runs the consuming workers plus the retry scheduler and the queue
// depth gauge refresher.
type Pool struct {
	gateway   *Gateway
	handler   Handler
	cache     *cache.Client
	sanitizer *masking.Sanitizer
	cfg       config.QueueConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a worker pool. Start must be called to begin consuming.
func NewPool(gateway *Gateway, handler Handler, cacheClient *cache.Client, sanitizer *masking.Sanitizer, cfg config.QueueConfig) *Pool {
	return &Pool{
		gateway:   gateway,
		handler:   handler,
		cache:     cacheClient,
		sanitizer: sanitizer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers and background loops.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
		p.wg.Add(1)
		go p.runWorker(workerID)
	}

	p.wg.Add(2)
	go p.runScheduler()
	go p.runGaugeRefresher()

	slog.Info("Worker pool started", "workers", p.cfg.WorkerCount)
}

// Stop shuts the pool down and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) runWorker(workerID string) {
	defer p.wg.Done()
	slog.Info("Worker started", "worker_id", workerID)

	for {
		select {
		case <-p.stopCh:
			slog.Info("Worker stopping", "worker_id", workerID)
			return
		default:
		}

		p.heartbeat(workerID)

		job, err := p.gateway.Dequeue(context.Background(), p.pollTimeout())
		if err != nil {
			slog.Error("Dequeue failed", "worker_id", workerID, "error", err)
			p.sleepJitter()
			continue
		}
		if job == nil {
			// No registered queues yet; BRPOP had nothing to block on.
			p.sleepJitter()
			continue
		}

		p.processJob(workerID, job)
	}
}

func (p *Pool) processJob(workerID string, job *models.QueueJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	defer cancel()

	slog.Info("Processing job",
		"worker_id", workerID,
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"correlation_id", job.CorrelationID,
		"attempt", job.Attempt+1)

	err := p.handler.Process(ctx, job)
	if err == nil {
		return
	}

	// Handlers dead-letter permanent failures themselves; those jobs are
	// terminal here.
	if job.DeadLettered {
		slog.Warn("Job dead-lettered by handler",
			"worker_id", workerID, "job_id", job.ID, "error", p.sanitizer.Sanitize(err.Error()))
		return
	}

	completed := job.Attempt + 1
	if completed >= job.MaxAttempts {
		reason := p.sanitizer.SanitizeError(err)
		if dlqErr := p.gateway.DeadLetter(ctx, job, reason); dlqErr != nil {
			slog.Error("Dead letter routing failed",
				"worker_id", workerID, "job_id", job.ID, "error", dlqErr)
			return
		}
		slog.Warn("Job retries exhausted, dead-lettered",
			"worker_id", workerID, "job_id", job.ID, "attempts", completed, "reason", reason)
		return
	}

	job.Attempt = completed
	delay := p.gateway.RetryDelay(completed)
	if rqErr := p.gateway.EnqueueDelayed(ctx, job, delay); rqErr != nil {
		slog.Error("Retry scheduling failed",
			"worker_id", workerID, "job_id", job.ID, "error", rqErr)
		return
	}
	slog.Info("Job scheduled for retry",
		"worker_id", workerID,
		"job_id", job.ID,
		"attempt", completed,
		"delay", delay,
		"error", p.sanitizer.Sanitize(err.Error()))
}

// runScheduler moves due delayed jobs back onto the primary queues.
func (p *Pool) runScheduler() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.gateway.MoveDueJobs(context.Background()); err != nil {
				slog.Error("Retry scheduler tick failed", "error", err)
			}
		}
	}
}

func (p *Pool) runGaugeRefresher() {
	defer p.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.gateway.UpdateDepthGauges(context.Background()); err != nil {
				slog.Error("Queue gauge refresh failed", "error", err)
			}
		}
	}
}

// heartbeat records worker liveness for the health endpoint.
func (p *Pool) heartbeat(workerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := cache.WorkerHeartbeatKey(workerID)
	if err := p.cache.SetString(ctx, key, time.Now().Format(time.RFC3339), HeartbeatMaxAge); err != nil {
		slog.Warn("Heartbeat write failed", "worker_id", workerID, "error", err)
	}
}

func (p *Pool) pollTimeout() time.Duration {
	return p.cfg.PollInterval + p.jitter()
}

func (p *Pool) sleepJitter() {
	select {
	case <-p.stopCh:
	case <-time.After(p.cfg.PollInterval + p.jitter()):
	}
}

func (p *Pool) jitter() time.Duration {
	if p.cfg.PollIntervalJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(p.cfg.PollIntervalJitter)))
}
