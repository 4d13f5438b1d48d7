package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zapflow/zapflow/pkg/models"
	"github.com/zapflow/zapflow/pkg/queue"
)

// handleDeadLetterRequeue re-enqueues a dead-letter job on its primary
// queue with a fresh retry budget.
func (s *Server) handleDeadLetterRequeue(c *gin.Context) {
	jobID := c.Param("id")

	job, err := s.queue.RequeueFromDeadLetter(c.Request.Context(), jobID)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead_letter_not_found"})
		return
	}
	if err != nil {
		slog.Error("Dead letter requeue failed", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	slog.Info("Dead letter job requeued",
		"job_id", job.ID, "tenant_id", job.TenantID, "correlation_id", job.CorrelationID)
	c.JSON(http.StatusOK, gin.H{"requeued": true, "job_id": job.ID})
}

type personalizationRequest struct {
	ToneOfVoice    string   `json:"tone_of_voice" binding:"required"`
	MessageLimit   int      `json:"message_limit" binding:"required,min=1"`
	OpeningPhrases []string `json:"opening_phrases"`
	AIEnabled      *bool    `json:"ai_enabled" binding:"required"`
	FormalityLevel int      `json:"formality_level" binding:"min=0,max=100"`
	EmpathyLevel   int      `json:"empathy_level" binding:"min=0,max=100"`
	AdaptiveHumor  bool     `json:"adaptive_humor"`
}

// handlePersonalizationUpdate replaces a tenant's reply tuning and
// invalidates the cached config so workers pick it up immediately.
func (s *Server) handlePersonalizationUpdate(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tenant_id"})
		return
	}

	var req personalizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	phrases := req.OpeningPhrases
	if phrases == nil {
		phrases = []string{}
	}
	cfg := &models.PersonalizationConfig{
		TenantID:       tenantID,
		ToneOfVoice:    req.ToneOfVoice,
		MessageLimit:   req.MessageLimit,
		OpeningPhrases: phrases,
		AIEnabled:      *req.AIEnabled,
		FormalityLevel: req.FormalityLevel,
		EmpathyLevel:   req.EmpathyLevel,
		AdaptiveHumor:  req.AdaptiveHumor,
	}

	ctx := c.Request.Context()
	if err := s.store.Personalization.Upsert(ctx, cfg); err != nil {
		slog.Error("Personalization update failed", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	if err := s.engine.InvalidatePersonalization(ctx, tenantID); err != nil {
		slog.Warn("Personalization cache invalidation failed", "tenant_id", tenantID, "error", err)
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}
