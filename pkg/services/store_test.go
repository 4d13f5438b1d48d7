package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestConversationGet(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now()

	t.Run("existing row", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, number, context_json`).
			WithArgs(int64(1), "5511999999999").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "number", "context_json", "last_message", "created_at", "updated_at",
			}).AddRow(7, 1, "5511999999999",
				[]byte(`[{"role":"user","body":"oi"},{"role":"assistant","body":"olá!"}]`),
				"olá!", now, now))

		c, err := store.Conversations.Get(context.Background(), 1, "5511999999999")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Len(t, c.Context, 2)
		assert.Equal(t, models.RoleAssistant, c.Context[1].Role)
		assert.Equal(t, "olá!", c.LastMessage)
	})

	t.Run("absent row returns nil", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, number, context_json`).
			WithArgs(int64(1), "5511888888888").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "number", "context_json", "last_message", "created_at", "updated_at",
			}))

		c, err := store.Conversations.Get(context.Background(), 1, "5511888888888")
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConversationUpsert(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO conversations .+ ON CONFLICT \(tenant_id, number\)`).
		WithArgs(int64(1), "5511999999999",
			[]byte(`[{"role":"user","body":"oi"}]`), "oi").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Conversations.Upsert(context.Background(), 1, "5511999999999",
		[]models.ContextEntry{{Role: models.RoleUser, Body: "oi"}}, "oi")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogAppend(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`INSERT INTO delivery_logs`).
		WithArgs(int64(1), "5511999999999", "resposta", "SENT",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.DeliveryLogs.Append(context.Background(), &models.DeliveryLog{
		TenantID:   1,
		Number:     "5511999999999",
		Body:       "resposta",
		Status:     models.DeliverySent,
		ExternalID: "wamid.123",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCustomerContextRoundTrip(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, number, frequent_topics`).
		WithArgs(int64(1), "5511999999999").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "number", "frequent_topics", "product_mentions",
			"preferences", "embedding", "last_subject",
		}).AddRow(3, 1, "5511999999999",
			[]byte(`["entrega","cobrança"]`), []byte(`["plano x"]`),
			[]byte(`{"nome":"Ana"}`), nil, "entrega atrasada"))

	c, err := store.CustomerContexts.Get(context.Background(), 1, "5511999999999")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, []string{"entrega", "cobrança"}, c.FrequentTopics)
	assert.Equal(t, "Ana", c.Preferences["nome"])
	assert.Equal(t, "entrega atrasada", c.LastSubject)
	assert.Nil(t, c.Embedding)

	mock.ExpectExec(`INSERT INTO customer_contexts .+ ON CONFLICT \(tenant_id, number\)`).
		WithArgs(int64(1), "5511999999999", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))

	c.LastSubject = "novo assunto"
	require.NoError(t, store.CustomerContexts.Upsert(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersonalizationGet(t *testing.T) {
	store, mock := newTestStore(t)

	t.Run("configured tenant", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, tone`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "tone", "message_limit", "opening_phrases",
				"ai_enabled", "formality", "empathy", "adaptive_humor",
			}).AddRow(1, 1, "formal", 10, []byte(`["Bom dia!"]`), true, 80, 40, false))

		p, err := store.Personalization.Get(context.Background(), 1)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "formal", p.ToneOfVoice)
		assert.Equal(t, 10, p.MessageLimit)
		assert.Equal(t, []string{"Bom dia!"}, p.OpeningPhrases)
		assert.False(t, p.AdaptiveHumor)
	})

	t.Run("missing row returns nil for defaults", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, tenant_id, tone`).
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "tenant_id", "tone", "message_limit", "opening_phrases",
				"ai_enabled", "formality", "empathy", "adaptive_humor",
			}))

		p, err := store.Personalization.Get(context.Background(), 2)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx(t *testing.T) {
	t.Run("commit on success", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO delivery_logs`)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := store.WithinTx(context.Background(), func(tx *Store) error {
			return tx.DeliveryLogs.Append(context.Background(), &models.DeliveryLog{
				TenantID: 1, Number: "5511999999999", Body: "ok", Status: models.DeliverySent,
			})
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback on error", func(t *testing.T) {
		store, mock := newTestStore(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := store.WithinTx(context.Background(), func(tx *Store) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
