// Package models defines the typed records shared across the pipeline:
// queue jobs, conversations, customer profiles, personalization and
// delivery logs. Every persisted entity carries a tenant id.
package models

import "time"

// Context entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContextEntry is a single turn in a conversation history.
type ContextEntry struct {
	Role string `json:"role"`
	Body string `json:"body"`
}

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

// Tenant lifecycle states.
const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantCancelled TenantStatus = "cancelled"
)

// Tenant is a logically isolated customer of the platform. Rows are
// provisioned externally and read-only to this service.
type Tenant struct {
	ID     int64        `json:"id"`
	Label  string       `json:"label"`
	Domain string       `json:"domain"`
	Status TenantStatus `json:"status"`
}

// MessageKind classifies a normalized inbound message.
type MessageKind string

// Message kinds produced by the payload normalizer.
const (
	KindText        MessageKind = "text"
	KindInteractive MessageKind = "interactive"
	KindTemplate    MessageKind = "template"
	KindMedia       MessageKind = "media"
)

// QueueJob is the transient unit of work created by the webhook and
// consumed by the worker pool. DeadLettered guards idempotent dead-letter
// routing across the job's retry history.
type QueueJob struct {
	ID            string      `json:"id"`
	TenantID      int64       `json:"tenant_id"`
	Number        string      `json:"number"`
	Text          string      `json:"text"`
	Kind          MessageKind `json:"kind"`
	CorrelationID string      `json:"correlation_id"`
	Attempt       int         `json:"attempt"`
	MaxAttempts   int         `json:"max_attempts"`
	DeadLettered  bool        `json:"dead_lettered"`

	// ReprocessedFromDeadLetter marks jobs re-enqueued by the admin
	// dead-letter requeue operation.
	ReprocessedFromDeadLetter bool `json:"reprocessed_from_dead_letter,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Conversation is the per-(tenant, number) dialogue row. Context holds the
// ordered history, bounded by the tenant's message limit.
type Conversation struct {
	ID          int64          `json:"id"`
	TenantID    int64          `json:"tenant_id"`
	Number      string         `json:"number"`
	Context     []ContextEntry `json:"context"`
	LastMessage string         `json:"last_message"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CustomerContext is the per-(tenant, number) customer profile refreshed
// after each successful reply.
type CustomerContext struct {
	ID              int64          `json:"id"`
	TenantID        int64          `json:"tenant_id"`
	Number          string         `json:"number"`
	FrequentTopics  []string       `json:"frequent_topics"`
	ProductMentions []string       `json:"product_mentions"`
	Preferences     map[string]any `json:"preferences"`
	Embedding       []float64      `json:"embedding,omitempty"`
	LastSubject     string         `json:"last_subject"`
}

// NewCustomerContext returns the default empty profile for a number.
func NewCustomerContext(tenantID int64, number string) *CustomerContext {
	return &CustomerContext{
		TenantID:        tenantID,
		Number:          number,
		FrequentTopics:  []string{},
		ProductMentions: []string{},
		Preferences:     map[string]any{},
	}
}

// PersonalizationConfig holds the per-tenant reply tuning. Exactly one row
// per tenant; defaults apply when none exists.
type PersonalizationConfig struct {
	ID             int64    `json:"id"`
	TenantID       int64    `json:"tenant_id"`
	ToneOfVoice    string   `json:"tone_of_voice"`
	MessageLimit   int      `json:"message_limit"`
	OpeningPhrases []string `json:"opening_phrases"`
	AIEnabled      bool     `json:"ai_enabled"`
	FormalityLevel int      `json:"formality_level"`
	EmpathyLevel   int      `json:"empathy_level"`
	AdaptiveHumor  bool     `json:"adaptive_humor"`
}

// DefaultPersonalization returns the config used when a tenant has no row.
func DefaultPersonalization(tenantID int64) *PersonalizationConfig {
	return &PersonalizationConfig{
		TenantID:       tenantID,
		ToneOfVoice:    "amigavel",
		MessageLimit:   5,
		OpeningPhrases: []string{},
		AIEnabled:      true,
		FormalityLevel: 50,
		EmpathyLevel:   70,
		AdaptiveHumor:  true,
	}
}

// DeliveryStatus is the terminal classification of one send attempt.
type DeliveryStatus string

// Delivery statuses. FAILED_TEMPORARY rows precede a queue retry;
// FAILED_PERMANENT rows precede dead-letter routing.
const (
	DeliverySent            DeliveryStatus = "SENT"
	DeliveryFailedTemporary DeliveryStatus = "FAILED_TEMPORARY"
	DeliveryFailedPermanent DeliveryStatus = "FAILED_PERMANENT"
)

// DeliveryLog is one append-only audit row per send attempt that reached
// persistence.
type DeliveryLog struct {
	ID         int64          `json:"id"`
	TenantID   int64          `json:"tenant_id"`
	Number     string         `json:"number"`
	Body       string         `json:"body"`
	Status     DeliveryStatus `json:"status"`
	ExternalID string         `json:"external_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
