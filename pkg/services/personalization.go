package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zapflow/zapflow/pkg/models"
)

// PersonalizationService reads and updates the one-per-tenant reply tuning
// rows. Admin collaborators own mutations; the context engine only reads.
type PersonalizationService struct {
	q querier
}

// Get returns the tenant's config, or nil when the tenant has none and
// defaults should apply.
func (s *PersonalizationService) Get(ctx context.Context, tenantID int64) (*models.PersonalizationConfig, error) {
	var (
		p          models.PersonalizationConfig
		rawPhrases []byte
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, tone, message_limit, opening_phrases, ai_enabled, formality, empathy, adaptive_humor
		 FROM personalization_configs WHERE tenant_id = $1`,
		tenantID,
	).Scan(&p.ID, &p.TenantID, &p.ToneOfVoice, &p.MessageLimit, &rawPhrases,
		&p.AIEnabled, &p.FormalityLevel, &p.EmpathyLevel, &p.AdaptiveHumor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load personalization for tenant %d: %w", tenantID, err)
	}

	if err := json.Unmarshal(rawPhrases, &p.OpeningPhrases); err != nil {
		return nil, fmt.Errorf("decode opening_phrases for tenant %d: %w", tenantID, err)
	}
	return &p, nil
}

// Upsert creates or replaces the tenant's config. Callers must invalidate
// the personalization cache afterwards.
func (s *PersonalizationService) Upsert(ctx context.Context, p *models.PersonalizationConfig) error {
	rawPhrases, err := json.Marshal(p.OpeningPhrases)
	if err != nil {
		return fmt.Errorf("encode opening_phrases: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO personalization_configs (tenant_id, tone, message_limit, opening_phrases, ai_enabled, formality, empathy, adaptive_humor)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   tone = EXCLUDED.tone,
		   message_limit = EXCLUDED.message_limit,
		   opening_phrases = EXCLUDED.opening_phrases,
		   ai_enabled = EXCLUDED.ai_enabled,
		   formality = EXCLUDED.formality,
		   empathy = EXCLUDED.empathy,
		   adaptive_humor = EXCLUDED.adaptive_humor`,
		p.TenantID, p.ToneOfVoice, p.MessageLimit, rawPhrases,
		p.AIEnabled, p.FormalityLevel, p.EmpathyLevel, p.AdaptiveHumor,
	)
	if err != nil {
		return fmt.Errorf("upsert personalization for tenant %d: %w", p.TenantID, err)
	}
	return nil
}
