package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zapflow/zapflow/pkg/models"
)

// DeliveryLogService writes the append-only audit trail of send attempts.
type DeliveryLogService struct {
	q querier
}

// Append records one send attempt. external_id and error are stored as
// NULL when empty.
func (s *DeliveryLogService) Append(ctx context.Context, log *models.DeliveryLog) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO delivery_logs (tenant_id, number, body, status, external_id, error)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		log.TenantID, log.Number, log.Body, string(log.Status),
		nullableString(log.ExternalID), nullableString(log.Error),
	)
	if err != nil {
		return fmt.Errorf("append delivery log %d/%s: %w", log.TenantID, log.Number, err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
