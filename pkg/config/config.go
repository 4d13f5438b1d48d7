// Package config loads service configuration from environment variables.
// Every option has a default; secrets (HMAC shared secret, API keys,
// gateway credentials) have none and must be provided.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates the configuration of every subsystem.
type Config struct {
	HTTP      HTTPConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Context   ContextConfig
	LLM       LLMConfig
	Gateway   GatewayConfig
}

// HTTPConfig controls the ingress server.
type HTTPConfig struct {
	Port           string
	RequestTimeout time.Duration
}

// AuthConfig controls webhook authentication.
type AuthConfig struct {
	// SharedSecret signs webhook payloads (HMAC-SHA256 over "<ts>.<body>").
	SharedSecret string
	// WebhookToken is an optional fixed-value second gate. Empty disables it.
	WebhookToken string
	// SignatureSkew is the accepted clock skew for the timestamp header.
	SignatureSkew time.Duration
}

// RedisConfig locates the shared cache/queue store.
type RedisConfig struct {
	URL string
}

// RateLimitConfig holds the sliding-window limits applied per tenant.
type RateLimitConfig struct {
	IPLimit     int
	NumberLimit int
	Window      time.Duration
	// KeyTTL bounds how long idle counter keys survive in Redis.
	KeyTTL time.Duration
}

// QueueConfig controls the Redis queue, retry schedule and worker pool.
type QueueConfig struct {
	// QueuePrefix names the primary queues: "<prefix>:company_<tenant_id>".
	QueuePrefix string
	// DeadLetterPrefix names the dead-letter queues.
	DeadLetterPrefix string
	// RetryDelays is the fixed delay schedule between attempts; attempts
	// beyond its length reuse the last interval.
	RetryDelays []time.Duration
	// MaxAttempts is the retry budget per job, including the first attempt.
	MaxAttempts int
	// DeadLetterTTL bounds how long dead-letter payloads are retained.
	DeadLetterTTL time.Duration

	WorkerCount        int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	HeartbeatInterval  time.Duration

	// JobTimeout is llm timeout + request timeout; a job exceeding it is
	// treated as a transient failure.
	JobTimeout time.Duration
}

// ContextConfig tunes the context engine caches.
type ContextConfig struct {
	MaxMessages int
	TTL         time.Duration
}

// LLMConfig controls the model client, its retries and circuit breaker.
type LLMConfig struct {
	APIKey        string
	Endpoint      string
	Timeout       time.Duration
	RetryAttempts int

	BreakerThreshold int
	BreakerReset     time.Duration
}

// GatewayConfig controls the Whaticket gateway client.
type GatewayConfig struct {
	APIURL      string
	BearerToken string
	JWTEmail    string
	JWTPassword string
	// LoginURL is used when BearerToken is empty; the JWT flow caches the
	// obtained token in Redis with TTL = expires - 60s.
	LoginURL      string
	Timeout       time.Duration
	RetryAttempts int

	// TransferToHuman is the message sent when a conversation must be
	// handed off.
	TransferToHuman string
}

const defaultLLMEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

// Load reads the full configuration from the environment.
func Load() *Config {
	requestTimeout := getEnvSeconds("REQUEST_TIMEOUT_SECONDS", 10)
	llmTimeout := getEnvSeconds("LLM_TIMEOUT_SECONDS", 30)

	return &Config{
		HTTP: HTTPConfig{
			Port:           getEnvOrDefault("HTTP_PORT", "8080"),
			RequestTimeout: requestTimeout,
		},
		Auth: AuthConfig{
			SharedSecret:  os.Getenv("SHARED_SECRET"),
			WebhookToken:  os.Getenv("WEBHOOK_TOKEN_OPTIONAL"),
			SignatureSkew: getEnvSeconds("SIGNATURE_SKEW_SECONDS", 300),
		},
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		},
		RateLimit: RateLimitConfig{
			IPLimit:     getEnvInt("WEBHOOK_RATE_LIMIT_IP", 60),
			NumberLimit: getEnvInt("WEBHOOK_RATE_LIMIT_NUMBER", 20),
			Window:      getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", 60),
			KeyTTL:      getEnvSeconds("RATE_LIMIT_KEY_TTL_SECONDS", 120),
		},
		Queue: QueueConfig{
			QueuePrefix:        getEnvOrDefault("RQ_QUEUE", "zapflow"),
			DeadLetterPrefix:   getEnvOrDefault("RQ_DEAD_LETTER_QUEUE", "zapflow:dlq"),
			RetryDelays:        getEnvDelays("RQ_RETRY_DELAYS", []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second, 90 * time.Second}),
			MaxAttempts:        getEnvInt("RQ_RETRY_MAX_ATTEMPTS", 5),
			DeadLetterTTL:      getEnvSeconds("RQ_DEAD_LETTER_TTL_SECONDS", 7*24*3600),
			WorkerCount:        getEnvInt("WORKER_COUNT", 5),
			PollInterval:       time.Second,
			PollIntervalJitter: 500 * time.Millisecond,
			HeartbeatInterval:  30 * time.Second,
			JobTimeout:         llmTimeout + requestTimeout,
		},
		Context: ContextConfig{
			MaxMessages: getEnvInt("CONTEXT_MAX_MESSAGES", 5),
			TTL:         getEnvSeconds("CONTEXT_TTL_SECONDS", 600),
		},
		LLM: LLMConfig{
			APIKey:           os.Getenv("GEMINI_API_KEY"),
			Endpoint:         getEnvOrDefault("LLM_ENDPOINT", defaultLLMEndpoint),
			Timeout:          llmTimeout,
			RetryAttempts:    getEnvInt("LLM_RETRY_ATTEMPTS", 3),
			BreakerThreshold: getEnvInt("LLM_CIRCUIT_BREAKER_THRESHOLD", 5),
			BreakerReset:     getEnvSeconds("LLM_CIRCUIT_BREAKER_RESET_SECONDS", 300),
		},
		Gateway: GatewayConfig{
			APIURL:          os.Getenv("WHATSAPP_API_URL"),
			BearerToken:     os.Getenv("WHATSAPP_BEARER_TOKEN"),
			JWTEmail:        os.Getenv("WHATICKET_JWT_EMAIL"),
			JWTPassword:     os.Getenv("WHATICKET_JWT_PASSWORD"),
			LoginURL:        os.Getenv("WHATICKET_LOGIN_URL"),
			Timeout:         requestTimeout,
			RetryAttempts:   getEnvInt("WHATICKET_RETRY_ATTEMPTS", 3),
			TransferToHuman: getEnvOrDefault("TRANSFER_TO_HUMAN_MESSAGE", "Vou transferir você para um atendente humano."),
		},
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

// getEnvDelays parses a comma-separated list of seconds, e.g. "5,15,45,90".
func getEnvDelays(key string, defaultVal []time.Duration) []time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var delays []time.Duration
	for _, part := range strings.Split(val, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return defaultVal
		}
		delays = append(delays, time.Duration(n)*time.Second)
	}
	if len(delays) == 0 {
		return defaultVal
	}
	return delays
}
