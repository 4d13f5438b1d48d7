// Package llm calls the Gemini generateContent API with retries, a
// per-tenant circuit breaker and a prompt-injection guard.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/metrics"
	"github.com/zapflow/zapflow/pkg/models"
)

// ErrCircuitOpen signals that the tenant's breaker is rejecting calls.
// Not retryable: retrying cannot succeed until the reset window elapses.
var ErrCircuitOpen = errors.New("llm circuit open")

const retryBackoffBase = 500 * time.Millisecond

// Client generates replies through the model endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string

	retryAttempts int
	maxMessages   int

	breaker *Breaker
	cache   *cache.Client
	metrics *metrics.Metrics
}

// NewClient creates the LLM client. maxMessages bounds how many history
// entries are sent with each request.
func NewClient(cfg config.LLMConfig, maxMessages int, cacheClient *cache.Client, m *metrics.Metrics) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		retryAttempts: cfg.RetryAttempts,
		maxMessages:   maxMessages,
		breaker:       NewBreaker(cacheClient, cfg.BreakerThreshold, cfg.BreakerReset),
		cache:         cacheClient,
		metrics:       m,
	}
}

// Breaker exposes the circuit breaker for health introspection.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Gemini generateContent wire format.

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GenerateReply produces the assistant's answer for userText given the
// system prompt and recent history. Blocked inputs return SafeReply as a
// normal reply. All other failures count against the tenant's breaker.
func (c *Client) GenerateReply(ctx context.Context, tenantID int64, userText, systemPrompt string, history []models.ContextEntry) (string, error) {
	if DetectInjection(userText) {
		c.metrics.LLMPromptInjectionBlocked.Inc()
		slog.Warn("Prompt injection blocked", "tenant_id", tenantID)
		return SafeReply, nil
	}

	allowed, err := c.breaker.Allow(ctx, tenantID)
	if err != nil {
		slog.Warn("Circuit check failed, allowing call", "tenant_id", tenantID, "error", err)
	} else if !allowed {
		return "", ErrCircuitOpen
	}

	prompt := c.buildPrompt(userText, systemPrompt, history)

	start := time.Now()
	reply, err := c.callWithRetries(ctx, tenantID, prompt)
	c.metrics.LLMLatency.Observe(time.Since(start).Seconds())

	company := strconv.FormatInt(tenantID, 10)
	if err != nil {
		c.metrics.LLMErrors.WithLabelValues(company).Inc()
		c.recordOutcome(ctx, tenantID, false)
		return "", err
	}

	c.breaker.RecordSuccess(ctx, tenantID)
	c.recordOutcome(ctx, tenantID, true)
	return reply, nil
}

// buildPrompt concatenates the system prompt, the last maxMessages turns
// and the new user message as "<role>: <body>" lines.
func (c *Client) buildPrompt(userText, systemPrompt string, history []models.ContextEntry) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(models.RoleSystem + ": " + systemPrompt + "\n")
	}

	start := len(history) - c.maxMessages
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		b.WriteString(entry.Role + ": " + entry.Body + "\n")
	}

	b.WriteString(models.RoleUser + ": " + userText)
	return b.String()
}

func (c *Client) callWithRetries(ctx context.Context, tenantID int64, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		reply, retryable, err := c.call(ctx, prompt)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		c.breaker.RecordFailure(ctx, tenantID)
		slog.Warn("LLM call failed", "tenant_id", tenantID, "attempt", attempt+1,
			"retryable", retryable, "error", err)
		if !retryable {
			return "", err
		}
	}
	return "", lastErr
}

// call performs one request. The boolean classifies the failure as
// transient (>=500, network, timeout) or permanent.
func (c *Client) call(ctx context.Context, prompt string) (string, bool, error) {
	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", false, fmt.Errorf("encode llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("llm status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("llm status %d", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", false, errors.New("llm response has no candidates")
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), false, nil
}

// recordOutcome maintains the per-tenant success/failure counts backing
// the llm_error_rate gauge.
func (c *Client) recordOutcome(ctx context.Context, tenantID int64, success bool) {
	key := cache.LLMErrorRateKey(tenantID)
	field := "failure"
	if success {
		field = "success"
	}
	rdb := c.cache.Redis()
	if err := rdb.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		slog.Warn("LLM outcome count failed", "tenant_id", tenantID, "error", err)
		return
	}

	counts, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return
	}
	successes, _ := strconv.ParseFloat(counts["success"], 64)
	failures, _ := strconv.ParseFloat(counts["failure"], 64)
	if total := successes + failures; total > 0 {
		c.metrics.LLMErrorRate.
			WithLabelValues(strconv.FormatInt(tenantID, 10)).
			Set(failures / total)
	}
}

func backoff(attempt int) time.Duration {
	d := retryBackoffBase << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
