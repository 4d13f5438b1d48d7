package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zapflow/zapflow/pkg/models"
)

// CustomerContextService reads and upserts the per-(tenant, number)
// customer profile rows.
type CustomerContextService struct {
	q querier
}

// Get returns the profile for (tenantID, number), or nil when absent.
func (s *CustomerContextService) Get(ctx context.Context, tenantID int64, number string) (*models.CustomerContext, error) {
	var (
		c           models.CustomerContext
		rawTopics   []byte
		rawProducts []byte
		rawPrefs    []byte
		rawEmbed    []byte
		lastSubject sql.NullString
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, number, frequent_topics, product_mentions, preferences, embedding, last_subject
		 FROM customer_contexts WHERE tenant_id = $1 AND number = $2`,
		tenantID, number,
	).Scan(&c.ID, &c.TenantID, &c.Number, &rawTopics, &rawProducts, &rawPrefs, &rawEmbed, &lastSubject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load customer context %d/%s: %w", tenantID, number, err)
	}

	if err := json.Unmarshal(rawTopics, &c.FrequentTopics); err != nil {
		return nil, fmt.Errorf("decode frequent_topics %d/%s: %w", tenantID, number, err)
	}
	if err := json.Unmarshal(rawProducts, &c.ProductMentions); err != nil {
		return nil, fmt.Errorf("decode product_mentions %d/%s: %w", tenantID, number, err)
	}
	if err := json.Unmarshal(rawPrefs, &c.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences %d/%s: %w", tenantID, number, err)
	}
	if len(rawEmbed) > 0 {
		if err := json.Unmarshal(rawEmbed, &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %d/%s: %w", tenantID, number, err)
		}
	}
	c.LastSubject = lastSubject.String
	return &c, nil
}

// Upsert creates or replaces the profile row for the customer.
func (s *CustomerContextService) Upsert(ctx context.Context, c *models.CustomerContext) error {
	rawTopics, err := json.Marshal(c.FrequentTopics)
	if err != nil {
		return fmt.Errorf("encode frequent_topics: %w", err)
	}
	rawProducts, err := json.Marshal(c.ProductMentions)
	if err != nil {
		return fmt.Errorf("encode product_mentions: %w", err)
	}
	rawPrefs, err := json.Marshal(c.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	var rawEmbed any
	if c.Embedding != nil {
		rawEmbed, err = json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO customer_contexts (tenant_id, number, frequent_topics, product_mentions, preferences, embedding, last_subject)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, number) DO UPDATE SET
		   frequent_topics = EXCLUDED.frequent_topics,
		   product_mentions = EXCLUDED.product_mentions,
		   preferences = EXCLUDED.preferences,
		   embedding = EXCLUDED.embedding,
		   last_subject = EXCLUDED.last_subject`,
		c.TenantID, c.Number, rawTopics, rawProducts, rawPrefs, rawEmbed,
		nullableString(c.LastSubject),
	)
	if err != nil {
		return fmt.Errorf("upsert customer context %d/%s: %w", c.TenantID, c.Number, err)
	}
	return nil
}
