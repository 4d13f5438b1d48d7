package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/models"
	"github.com/zapflow/zapflow/pkg/normalize"
	"github.com/zapflow/zapflow/pkg/tenant"
)

const maxWebhookBody = 1 << 20

// handleWebhook is the signed ingress: HMAC verify, optional token gate,
// tenant resolution, payload normalization, rate limiting and enqueue.
func (s *Server) handleWebhook(c *gin.Context) {
	company := "unknown"
	status := "error"
	defer func() {
		s.metrics.WebhookReceived.WithLabelValues(company, status).Inc()
	}()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		status = "400"
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if !verifySignature(s.cfg.Auth.SharedSecret, c.GetHeader("X-Timestamp"), body,
		c.GetHeader("X-Signature"), s.cfg.Auth.SignatureSkew) {
		status = "401"
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
		return
	}

	if s.cfg.Auth.WebhookToken != "" && c.GetHeader("X-Webhook-Token") != s.cfg.Auth.WebhookToken {
		status = "401"
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	domain := c.GetHeader("X-Company-Domain")
	if domain == "" {
		domain = c.Request.Host
	}
	resolved, err := s.resolver.Resolve(c.Request.Context(), domain)
	if errors.Is(err, tenant.ErrNotFound) {
		status = "404"
		c.JSON(http.StatusNotFound, gin.H{"error": "company_not_found"})
		return
	}
	if err != nil {
		slog.Error("Tenant resolution failed", "domain", domain, "error", err)
		status = "500"
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	company = strconv.FormatInt(resolved.ID, 10)

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		status = "400"
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	msg, err := normalize.Normalize(payload)
	if err != nil {
		status = "400"
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	ctx := c.Request.Context()
	ok, err := s.limiter.Check(ctx, cache.RateIPKey(resolved.ID, c.ClientIP()), s.cfg.RateLimit.IPLimit)
	if err != nil {
		slog.Error("Rate limit check failed", "tenant_id", resolved.ID, "error", err)
		status = "500"
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if !ok {
		status = "429"
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests_ip"})
		return
	}

	ok, err = s.limiter.Check(ctx, cache.RateNumberKey(resolved.ID, msg.Number), s.cfg.RateLimit.NumberLimit)
	if err != nil {
		slog.Error("Rate limit check failed", "tenant_id", resolved.ID, "error", err)
		status = "500"
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if !ok {
		status = "429"
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests_number"})
		return
	}

	correlationID := c.GetHeader("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	job := &models.QueueJob{
		ID:            uuid.NewString(),
		TenantID:      resolved.ID,
		Number:        msg.Number,
		Text:          msg.Text,
		Kind:          msg.Kind,
		CorrelationID: correlationID,
		MaxAttempts:   s.cfg.Queue.MaxAttempts,
		EnqueuedAt:    time.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		slog.Error("Enqueue failed", "tenant_id", resolved.ID, "job_id", job.ID, "error", err)
		status = "500"
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	slog.Info("Webhook accepted",
		"tenant_id", resolved.ID,
		"job_id", job.ID,
		"correlation_id", correlationID,
		"kind", msg.Kind)
	status = "202"
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}
