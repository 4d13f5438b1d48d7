// Package pipeline orchestrates the worker task: context assembly, reply
// generation, template rendering, gateway delivery and persistence.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zapflow/zapflow/pkg/contextengine"
	"github.com/zapflow/zapflow/pkg/llm"
	"github.com/zapflow/zapflow/pkg/masking"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/models"
	"github.com/zapflow/zapflow/pkg/queue"
	"github.com/zapflow/zapflow/pkg/services"
	"github.com/zapflow/zapflow/pkg/template"
	"github.com/zapflow/zapflow/pkg/whaticket"
)

// maxInputLen caps the sanitized inbound text before it reaches the
// context engine and the model.
const maxInputLen = 1000

// lastSubjectMaxLen bounds what is stored as the customer's last subject.
const lastSubjectMaxLen = 120

var whitespaceRe = regexp.MustCompile(`\s+`)

// Task processes one queue job end to end. It implements queue.Handler.
type Task struct {
	engine    *contextengine.Engine
	llmClient *llm.Client
	renderer  *template.Renderer
	gateway   *whaticket.Client
	store     *services.Store
	queue     *queue.Gateway
	sanitizer *masking.Sanitizer
	metrics   *metrics.Metrics
}

// NewTask wires the worker task.
func NewTask(
	engine *contextengine.Engine,
	llmClient *llm.Client,
	renderer *template.Renderer,
	gateway *whaticket.Client,
	store *services.Store,
	queueGateway *queue.Gateway,
	sanitizer *masking.Sanitizer,
	m *metrics.Metrics,
) *Task {
	return &Task{
		engine:    engine,
		llmClient: llmClient,
		renderer:  renderer,
		gateway:   gateway,
		store:     store,
		queue:     queueGateway,
		sanitizer: sanitizer,
		metrics:   m,
	}
}

// Process runs the full reply pipeline for a job. Transient failures
// return an error for the queue's retry policy; permanent failures are
// dead-lettered here before the error propagates.
func (t *Task) Process(ctx context.Context, job *models.QueueJob) error {
	start := time.Now()
	defer func() {
		t.metrics.TaskLatency.Observe(time.Since(start).Seconds())
	}()

	text := sanitizeText(job.Text)

	rc, err := t.engine.Build(ctx, job.TenantID, job.Number, text)
	if err != nil {
		return fmt.Errorf("build context for job %s: %w", job.ID, err)
	}

	final := t.buildReply(ctx, job, text, rc)

	newHistory := contextengine.ExtendHistory(rc.History, text, final, rc.Personalization.MessageLimit)

	externalID, sendErr := t.gateway.SendText(ctx, job.TenantID, job.Number, final)
	status := classifyDelivery(job, sendErr)

	if persistErr := t.persist(ctx, job, rc, newHistory, final, text, status, externalID, sendErr); persistErr != nil {
		return persistErr
	}

	if sendErr == nil {
		slog.Info("Reply delivered",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"correlation_id", job.CorrelationID,
			"template", rc.TemplateName,
			"external_id", externalID)
		return nil
	}

	if status == models.DeliveryFailedPermanent {
		t.metrics.PermanentDeliveryFailures.
			WithLabelValues(strconv.FormatInt(job.TenantID, 10)).Inc()
		if dlqErr := t.queue.DeadLetter(ctx, job, t.sanitizer.SanitizeError(sendErr)); dlqErr != nil {
			slog.Error("Dead letter routing failed", "job_id", job.ID, "error", dlqErr)
		}
	}
	return fmt.Errorf("send reply for job %s: %w", job.ID, sendErr)
}

// buildReply produces the outbound text for the job: the canned safe reply
// for blocked inputs, the ai_disabled template when the tenant turned the
// assistant off, the technical_issue template on model failure, and the
// selected template around the model output otherwise.
func (t *Task) buildReply(ctx context.Context, job *models.QueueJob, text string, rc *contextengine.RuntimeContext) string {
	vars := rc.TemplateVars

	if llm.DetectInjection(text) {
		t.metrics.LLMPromptInjectionBlocked.Inc()
		t.metrics.TemplateFallbacks.Inc()
		slog.Warn("Blocked input answered with safe reply",
			"job_id", job.ID, "tenant_id", job.TenantID)
		return t.renderer.Render(template.NameFallback, vars)
	}

	if !rc.AIEnabled {
		return t.renderer.Render(template.NameAIDisabled, vars)
	}

	reply, err := t.llmClient.GenerateReply(ctx, job.TenantID, text, rc.SystemPrompt, rc.History)
	if err != nil {
		t.metrics.TemplateFallbacks.Inc()
		slog.Warn("LLM reply failed, using technical issue template",
			"job_id", job.ID, "tenant_id", job.TenantID,
			"error", t.sanitizer.Sanitize(err.Error()))
		return t.renderer.Render(template.NameTechnicalIssue, vars)
	}

	vars["resposta"] = reply
	return t.renderer.Render(rc.TemplateName, vars)
}

// classifyDelivery maps a send outcome to a delivery status. A retryable
// failure on the job's last attempt is permanent.
func classifyDelivery(job *models.QueueJob, sendErr error) models.DeliveryStatus {
	switch {
	case sendErr == nil:
		return models.DeliverySent
	case whaticket.IsRetryable(sendErr) && job.Attempt+1 < job.MaxAttempts:
		return models.DeliveryFailedTemporary
	default:
		return models.DeliveryFailedPermanent
	}
}

// persist commits the job outcome in a single transaction. Success writes
// the conversation, delivery log and refreshed profile; failure writes the
// delivery log only, never touching conversation or profile state.
func (t *Task) persist(ctx context.Context, job *models.QueueJob, rc *contextengine.RuntimeContext, history []models.ContextEntry, final, userText string, status models.DeliveryStatus, externalID string, sendErr error) error {
	log := &models.DeliveryLog{
		TenantID:   job.TenantID,
		Number:     job.Number,
		Body:       final,
		Status:     status,
		ExternalID: externalID,
		Error:      t.sanitizer.SanitizeError(sendErr),
	}

	if sendErr != nil {
		if err := t.store.DeliveryLogs.Append(ctx, log); err != nil {
			return fmt.Errorf("persist delivery log for job %s: %w", job.ID, err)
		}
		return nil
	}

	profile := rc.Profile
	profile.LastSubject = truncate(userText, lastSubjectMaxLen)
	profile.Preferences["ultimo_assunto"] = profile.LastSubject
	profile.Preferences["ultimo_sentimento"] = rc.Sentiment
	profile.Preferences["ultima_intencao"] = rc.Intention

	err := t.store.WithinTx(ctx, func(tx *services.Store) error {
		if err := tx.Conversations.Upsert(ctx, job.TenantID, job.Number, history, final); err != nil {
			return err
		}
		if err := tx.DeliveryLogs.Append(ctx, log); err != nil {
			return err
		}
		return tx.CustomerContexts.Upsert(ctx, profile)
	})
	if err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}

	// Refresh caches only after the commit.
	t.engine.CacheHistory(ctx, job.TenantID, job.Number, history)
	t.engine.RefreshProfile(ctx, profile)
	return nil
}

// sanitizeText collapses whitespace and caps the input length.
func sanitizeText(s string) string {
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	return truncate(s, maxInputLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
