package contextengine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/models"
	"github.com/zapflow/zapflow/pkg/services"
	"github.com/zapflow/zapflow/pkg/template"
)

const testNumber = "5511999999999"

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *cache.Client) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	cacheClient := cache.NewClientFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	engine := NewEngine(services.NewStore(db), cacheClient, template.NewRenderer(nil),
		10*time.Minute, "Vou transferir você para um atendente humano.")
	return engine, mock, cacheClient
}

// expectColdLoad queues the three database reads Build performs when the
// cache is empty: personalization, conversation, customer context.
func expectColdLoad(mock sqlmock.Sqlmock, tenantID int64) {
	mock.ExpectQuery(`SELECT id, tenant_id, tone`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "tone", "message_limit", "opening_phrases",
			"ai_enabled", "formality", "empathy", "adaptive_humor",
		}))
	mock.ExpectQuery(`SELECT id, tenant_id, number, context_json`).
		WithArgs(tenantID, testNumber).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "number", "context_json", "last_message", "created_at", "updated_at",
		}))
	mock.ExpectQuery(`SELECT id, tenant_id, number, frequent_topics`).
		WithArgs(tenantID, testNumber).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "number", "frequent_topics", "product_mentions",
			"preferences", "embedding", "last_subject",
		}))
}

func TestBuildColdCacheUsesDefaults(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	expectColdLoad(mock, 1)

	rc, err := engine.Build(context.Background(), 1, testNumber, "bom dia!")
	require.NoError(t, err)

	assert.True(t, rc.AIEnabled)
	assert.Equal(t, "amigavel", rc.Personalization.ToneOfVoice)
	assert.Empty(t, rc.History)
	assert.Equal(t, IntentionGreeting, rc.Intention)
	assert.Equal(t, "greeting", rc.TemplateName)
	assert.Equal(t, testNumber, rc.TemplateVars["numero"])
	assert.Equal(t, "Olá! ", rc.TemplateVars["saudacao"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildWarmCacheSkipsDatabase(t *testing.T) {
	engine, mock, cacheClient := newTestEngine(t)
	ctx := context.Background()

	p := models.DefaultPersonalization(1)
	p.ToneOfVoice = "formal"
	require.NoError(t, cacheClient.SetJSON(ctx, cache.PersonalizationKey(1), p, time.Minute))
	require.NoError(t, cacheClient.SetJSON(ctx, cache.HistoryKey(1, testNumber),
		[]models.ContextEntry{
			{Role: models.RoleUser, Body: "quero mudar de plano"},
			{Role: models.RoleAssistant, Body: "claro, qual plano?"},
		}, time.Minute))
	profile := models.NewCustomerContext(1, testNumber)
	profile.Preferences["nome"] = "Ana"
	profile.ProductMentions = []string{"plano x"}
	profile.LastSubject = "mudança de plano"
	require.NoError(t, cacheClient.SetJSON(ctx, cache.ProfileKey(1, testNumber), profile, time.Minute))

	rc, err := engine.Build(ctx, 1, testNumber, "o plano x cobre viagens?")
	require.NoError(t, err)

	// No database expectations were queued: a query would fail the test.
	assert.Equal(t, "formal", rc.Personalization.ToneOfVoice)
	assert.Len(t, rc.History, 2)
	assert.Equal(t, IntentionDoubt, rc.Intention)
	assert.Equal(t, "doubt", rc.TemplateName)
	assert.Equal(t, "Ana", rc.TemplateVars["nome"])
	assert.Equal(t, "plano x", rc.TemplateVars["produto"])
	assert.Equal(t, "mudança de plano", rc.TemplateVars["ultimo_assunto"])
	assert.Contains(t, rc.SystemPrompt, "Nome do cliente: Ana.")
	assert.Contains(t, rc.SystemPrompt, "Cliente: quero mudar de plano")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildNegativeSentimentAdjustsPromptAndVars(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	expectColdLoad(mock, 1)

	rc, err := engine.Build(context.Background(), 1, testNumber, "péssimo atendimento, muita demora")
	require.NoError(t, err)

	assert.Equal(t, SentimentNegative, rc.Sentiment)
	assert.Equal(t, "sentiment_negative", rc.TemplateName)
	assert.NotEmpty(t, rc.TemplateVars["empatia_texto"])
	assert.Empty(t, rc.TemplateVars["humor_extra"])
	assert.Contains(t, rc.SystemPrompt, "insatisfação")
	assert.NotContains(t, rc.SystemPrompt, "Humor leve")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildUpdatesSentimentCounters(t *testing.T) {
	engine, mock, cacheClient := newTestEngine(t)
	expectColdLoad(mock, 1)

	_, err := engine.Build(context.Background(), 1, testNumber, "obrigado, excelente!")
	require.NoError(t, err)

	ctx := context.Background()
	sentiments := cacheClient.Redis().HGetAll(ctx, cache.SentimentCountersKey(1)).Val()
	assert.Equal(t, "1", sentiments[SentimentPositive])
	satisfaction := cacheClient.Redis().HGetAll(ctx, cache.SatisfactionCountersKey(1)).Val()
	assert.Equal(t, "1", satisfaction[FeedbackPositive])
}

func TestRecordHistoryTrimsAndCaches(t *testing.T) {
	engine, _, cacheClient := newTestEngine(t)
	ctx := context.Background()

	p := models.DefaultPersonalization(1)
	p.MessageLimit = 4

	prev := []models.ContextEntry{
		{Role: models.RoleUser, Body: "a"},
		{Role: models.RoleAssistant, Body: "b"},
		{Role: models.RoleUser, Body: "c"},
		{Role: models.RoleAssistant, Body: "d"},
	}

	history := engine.RecordHistory(ctx, 1, testNumber, prev, "e", "f", p)
	require.Len(t, history, 4)
	assert.Equal(t, "c", history[0].Body)
	assert.Equal(t, "f", history[3].Body)

	var cached []models.ContextEntry
	hit, err := cacheClient.GetJSON(ctx, cache.HistoryKey(1, testNumber), &cached)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, history, cached)
}

func TestInvalidatePersonalization(t *testing.T) {
	engine, mock, cacheClient := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, cacheClient.SetJSON(ctx, cache.PersonalizationKey(1),
		models.DefaultPersonalization(1), time.Minute))
	require.NoError(t, engine.InvalidatePersonalization(ctx, 1))

	// Next Build goes back to the database.
	expectColdLoad(mock, 1)
	_, err := engine.Build(ctx, 1, testNumber, "oi")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
