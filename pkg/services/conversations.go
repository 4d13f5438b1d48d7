package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zapflow/zapflow/pkg/models"
)

// ConversationService reads and upserts the per-(tenant, number)
// conversation rows. The worker exclusively owns mutations here.
type ConversationService struct {
	q querier
}

// Get returns the conversation for (tenantID, number), or nil when the
// customer has no row yet.
func (s *ConversationService) Get(ctx context.Context, tenantID int64, number string) (*models.Conversation, error) {
	var (
		c       models.Conversation
		rawCtx  []byte
		lastMsg sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, number, context_json, last_message, created_at, updated_at
		 FROM conversations WHERE tenant_id = $1 AND number = $2`,
		tenantID, number,
	).Scan(&c.ID, &c.TenantID, &c.Number, &rawCtx, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %d/%s: %w", tenantID, number, err)
	}

	if err := json.Unmarshal(rawCtx, &c.Context); err != nil {
		return nil, fmt.Errorf("decode conversation context %d/%s: %w", tenantID, number, err)
	}
	c.LastMessage = lastMsg.String
	return &c, nil
}

// Upsert creates or updates the single conversation row for the customer.
func (s *ConversationService) Upsert(ctx context.Context, tenantID int64, number string, history []models.ContextEntry, lastMessage string) error {
	rawCtx, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode conversation context: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO conversations (tenant_id, number, context_json, last_message)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, number) DO UPDATE SET
		   context_json = EXCLUDED.context_json,
		   last_message = EXCLUDED.last_message,
		   updated_at = now()`,
		tenantID, number, rawCtx, lastMessage,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %d/%s: %w", tenantID, number, err)
	}
	return nil
}
