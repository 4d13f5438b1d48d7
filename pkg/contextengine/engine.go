// Package contextengine assembles everything the LLM and template renderer
// need for one reply: conversation history, customer profile,
// personalization config, sentiment and intention analysis, the system
// prompt and the template variables.
package contextengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/models"
	"github.com/zapflow/zapflow/pkg/services"
	"github.com/zapflow/zapflow/pkg/template"
)

// RuntimeContext is the material produced for a single inbound message.
type RuntimeContext struct {
	History         []models.ContextEntry
	SystemPrompt    string
	TemplateVars    map[string]string
	Profile         *models.CustomerContext
	Personalization *models.PersonalizationConfig
	AIEnabled       bool
	Sentiment       string
	Intention       string
	TemplateName    string
	Feedback        string
}

// Engine builds runtime contexts with a cache-first, database-fallback
// loading strategy.
type Engine struct {
	store    *services.Store
	cache    *cache.Client
	renderer *template.Renderer

	cacheTTL        time.Duration
	transferMessage string
}

// NewEngine creates the context engine. renderer is consulted only for
// template existence during selection.
func NewEngine(store *services.Store, cacheClient *cache.Client, renderer *template.Renderer, cacheTTL time.Duration, transferMessage string) *Engine {
	return &Engine{
		store:           store,
		cache:           cacheClient,
		renderer:        renderer,
		cacheTTL:        cacheTTL,
		transferMessage: transferMessage,
	}
}

// Build assembles the runtime context for one inbound message.
func (e *Engine) Build(ctx context.Context, tenantID int64, number, userText string) (*RuntimeContext, error) {
	personalization, err := e.loadPersonalization(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	history, err := e.loadHistory(ctx, tenantID, number, personalization.MessageLimit)
	if err != nil {
		return nil, err
	}

	profile, err := e.loadProfile(ctx, tenantID, number)
	if err != nil {
		return nil, err
	}

	sentiment, _ := AnalyzeSentiment(userText)
	e.bumpCounter(ctx, cache.SentimentCountersKey(tenantID), sentiment)

	intention := DetectIntention(userText, history)

	feedback := DetectFeedback(userText)
	if feedback != "" {
		e.bumpCounter(ctx, cache.SatisfactionCountersKey(tenantID), feedback)
	}

	rc := &RuntimeContext{
		History:         history,
		Profile:         profile,
		Personalization: personalization,
		AIEnabled:       personalization.AIEnabled,
		Sentiment:       sentiment,
		Intention:       intention,
		TemplateName:    e.selectTemplate(intention, sentiment),
		Feedback:        feedback,
	}
	rc.SystemPrompt = buildSystemPrompt(profile, personalization, history, sentiment, intention)
	rc.TemplateVars = e.templateVars(rc, number)
	return rc, nil
}

// selectTemplate picks the first existing template from the candidate
// order: intention_sentiment, intention, sentiment_<label>, default.
func (e *Engine) selectTemplate(intention, sentiment string) string {
	for _, name := range []string{
		intention + "_" + sentiment,
		intention,
		"sentiment_" + sentiment,
	} {
		if e.renderer.Has(name) {
			return name
		}
	}
	return template.NameDefault
}

// ExtendHistory appends the user and assistant turns to prev, trimmed to
// the tenant's message limit. The input slice is not mutated.
func ExtendHistory(prev []models.ContextEntry, userMsg, assistantMsg string, limit int) []models.ContextEntry {
	history := append(append([]models.ContextEntry{}, prev...),
		models.ContextEntry{Role: models.RoleUser, Body: userMsg},
		models.ContextEntry{Role: models.RoleAssistant, Body: assistantMsg},
	)
	return trimHistory(history, limit)
}

// CacheHistory writes a history slice back to the cache. Called after the
// worker's transaction commits, so the cache never runs ahead of the
// database.
func (e *Engine) CacheHistory(ctx context.Context, tenantID int64, number string, history []models.ContextEntry) {
	if err := e.cache.SetJSON(ctx, cache.HistoryKey(tenantID, number), history, e.cacheTTL); err != nil {
		slog.Warn("History cache write failed", "tenant_id", tenantID, "number", number, "error", err)
	}
}

// RecordHistory extends prev with the new turns and caches the result.
func (e *Engine) RecordHistory(ctx context.Context, tenantID int64, number string, prev []models.ContextEntry, userMsg, assistantMsg string, p *models.PersonalizationConfig) []models.ContextEntry {
	history := ExtendHistory(prev, userMsg, assistantMsg, p.MessageLimit)
	e.CacheHistory(ctx, tenantID, number, history)
	return history
}

// RefreshProfile rewrites the cached profile after the worker's commit.
func (e *Engine) RefreshProfile(ctx context.Context, profile *models.CustomerContext) {
	key := cache.ProfileKey(profile.TenantID, profile.Number)
	if err := e.cache.SetJSON(ctx, key, profile, e.cacheTTL); err != nil {
		slog.Warn("Profile cache write failed", "tenant_id", profile.TenantID, "number", profile.Number, "error", err)
	}
}

// InvalidatePersonalization drops the cached config after an admin update.
func (e *Engine) InvalidatePersonalization(ctx context.Context, tenantID int64) error {
	return e.cache.Delete(ctx, cache.PersonalizationKey(tenantID))
}

func (e *Engine) loadHistory(ctx context.Context, tenantID int64, number string, limit int) ([]models.ContextEntry, error) {
	key := cache.HistoryKey(tenantID, number)
	var cached []models.ContextEntry
	if hit, err := e.cache.GetJSON(ctx, key, &cached); err != nil {
		slog.Warn("History cache read failed, falling back to database",
			"tenant_id", tenantID, "number", number, "error", err)
	} else if hit {
		return trimHistory(cached, limit), nil
	}

	conv, err := e.store.Conversations.Get(ctx, tenantID, number)
	if err != nil {
		return nil, fmt.Errorf("history load: %w", err)
	}
	if conv == nil {
		return []models.ContextEntry{}, nil
	}
	return trimHistory(conv.Context, limit), nil
}

func (e *Engine) loadProfile(ctx context.Context, tenantID int64, number string) (*models.CustomerContext, error) {
	key := cache.ProfileKey(tenantID, number)
	var cached models.CustomerContext
	if hit, err := e.cache.GetJSON(ctx, key, &cached); err != nil {
		slog.Warn("Profile cache read failed, falling back to database",
			"tenant_id", tenantID, "number", number, "error", err)
	} else if hit {
		return &cached, nil
	}

	profile, err := e.store.CustomerContexts.Get(ctx, tenantID, number)
	if err != nil {
		return nil, fmt.Errorf("profile load: %w", err)
	}
	if profile == nil {
		profile = models.NewCustomerContext(tenantID, number)
	}

	if err := e.cache.SetJSON(ctx, key, profile, e.cacheTTL); err != nil {
		slog.Warn("Profile cache write failed", "tenant_id", tenantID, "number", number, "error", err)
	}
	return profile, nil
}

func (e *Engine) loadPersonalization(ctx context.Context, tenantID int64) (*models.PersonalizationConfig, error) {
	key := cache.PersonalizationKey(tenantID)
	var cached models.PersonalizationConfig
	if hit, err := e.cache.GetJSON(ctx, key, &cached); err != nil {
		slog.Warn("Personalization cache read failed, falling back to database",
			"tenant_id", tenantID, "error", err)
	} else if hit {
		return &cached, nil
	}

	p, err := e.store.Personalization.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("personalization load: %w", err)
	}
	if p == nil {
		p = models.DefaultPersonalization(tenantID)
	}

	if err := e.cache.SetJSON(ctx, key, p, e.cacheTTL); err != nil {
		slog.Warn("Personalization cache write failed", "tenant_id", tenantID, "error", err)
	}
	return p, nil
}

// bumpCounter increments a rolling analytics hash field. Failures are
// logged, never propagated: analytics must not break the reply path.
func (e *Engine) bumpCounter(ctx context.Context, key, field string) {
	if err := e.cache.Redis().HIncrBy(ctx, key, field, 1).Err(); err != nil {
		slog.Warn("Counter update failed", "key", key, "field", field, "error", err)
	}
}

func trimHistory(history []models.ContextEntry, limit int) []models.ContextEntry {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
