package cache

import "fmt"

// Tenant namespace: every key is prefixed "company:<tenant_id>:".

// TenantKey joins key parts under the tenant namespace.
func TenantKey(tenantID int64, suffix string) string {
	return fmt.Sprintf("company:%d:%s", tenantID, suffix)
}

// HistoryKey stores the cached conversation history for a number.
func HistoryKey(tenantID int64, number string) string {
	return TenantKey(tenantID, "ctx:"+number)
}

// ProfileKey stores the cached customer profile for a number.
func ProfileKey(tenantID int64, number string) string {
	return TenantKey(tenantID, "ctx:profile:"+number)
}

// PersonalizationKey stores the cached per-tenant personalization config.
func PersonalizationKey(tenantID int64) string {
	return TenantKey(tenantID, "ctx:personalization_config")
}

// CircuitKey stores the LLM circuit breaker state for a tenant.
func CircuitKey(tenantID int64) string {
	return TenantKey(tenantID, "llm:circuit")
}

// RateIPKey is the sliding-window counter for an ingress IP.
func RateIPKey(tenantID int64, ip string) string {
	return TenantKey(tenantID, "rl:ip:"+ip)
}

// RateNumberKey is the sliding-window counter for a WhatsApp number.
func RateNumberKey(tenantID int64, number string) string {
	return TenantKey(tenantID, "rl:num:"+number)
}

// GatewayJWTKey caches the Whaticket JWT for a tenant.
func GatewayJWTKey(tenantID int64) string {
	return TenantKey(tenantID, "whaticket:jwt")
}

// LLMErrorRateKey is the hash holding per-tenant LLM success/failure counts.
func LLMErrorRateKey(tenantID int64) string {
	return TenantKey(tenantID, "metrics:llm:error_rate")
}

// SentimentCountersKey is the hash holding rolling sentiment counts.
func SentimentCountersKey(tenantID int64) string {
	return TenantKey(tenantID, "metrics:sentiment")
}

// SatisfactionCountersKey is the hash holding rolling feedback counts.
func SatisfactionCountersKey(tenantID int64) string {
	return TenantKey(tenantID, "metrics:satisfaction")
}

// WorkerHeartbeatKey records the last activity timestamp of a worker.
func WorkerHeartbeatKey(workerID string) string {
	return "worker:heartbeat:" + workerID
}

// TenantDomainKey caches domain → tenant resolution.
func TenantDomainKey(domain string) string {
	return "tenant:domain:" + domain
}
