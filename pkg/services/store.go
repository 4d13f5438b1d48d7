// Package services implements the persistence layer over PostgreSQL:
// conversations, delivery logs, customer profiles and personalization
// configs, plus a transaction scope used by the worker's single commit.
package services

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx so every service method
// works inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the persistence services over one connection pool.
type Store struct {
	db *sql.DB

	Conversations    *ConversationService
	DeliveryLogs     *DeliveryLogService
	CustomerContexts *CustomerContextService
	Personalization  *PersonalizationService
}

// NewStore creates a store over db.
func NewStore(db *sql.DB) *Store {
	s := &Store{db: db}
	s.bind(db)
	return s
}

func (s *Store) bind(q querier) {
	s.Conversations = &ConversationService{q: q}
	s.DeliveryLogs = &DeliveryLogService{q: q}
	s.CustomerContexts = &CustomerContextService{q: q}
	s.Personalization = &PersonalizationService{q: q}
}

// WithinTx runs fn with a store scoped to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &Store{db: s.db}
	txStore.bind(sqlTx)

	if err := fn(txStore); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
