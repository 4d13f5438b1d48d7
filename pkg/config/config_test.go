package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	t.Run("http", func(t *testing.T) {
		assert.Equal(t, "8080", cfg.HTTP.Port)
		assert.Equal(t, 10*time.Second, cfg.HTTP.RequestTimeout)
	})

	t.Run("auth", func(t *testing.T) {
		assert.Equal(t, 300*time.Second, cfg.Auth.SignatureSkew)
	})

	t.Run("rate limit", func(t *testing.T) {
		assert.Equal(t, 60, cfg.RateLimit.IPLimit)
		assert.Equal(t, 20, cfg.RateLimit.NumberLimit)
		assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	})

	t.Run("queue", func(t *testing.T) {
		assert.Equal(t, 5, cfg.Queue.MaxAttempts)
		require.Len(t, cfg.Queue.RetryDelays, 4)
		assert.Equal(t, 5*time.Second, cfg.Queue.RetryDelays[0])
		assert.Equal(t, 90*time.Second, cfg.Queue.RetryDelays[3])
		// Job timeout combines LLM and request timeouts.
		assert.Equal(t, 40*time.Second, cfg.Queue.JobTimeout)
	})

	t.Run("llm", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
		assert.Equal(t, 3, cfg.LLM.RetryAttempts)
		assert.Equal(t, 5, cfg.LLM.BreakerThreshold)
		assert.Equal(t, 300*time.Second, cfg.LLM.BreakerReset)
	})

	t.Run("context", func(t *testing.T) {
		assert.Equal(t, 5, cfg.Context.MaxMessages)
		assert.Equal(t, 600*time.Second, cfg.Context.TTL)
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RQ_RETRY_DELAYS", "1, 2,3")
	t.Setenv("RQ_RETRY_MAX_ATTEMPTS", "2")
	t.Setenv("WEBHOOK_RATE_LIMIT_NUMBER", "0")
	t.Setenv("SHARED_SECRET", "secret")

	cfg := Load()

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, cfg.Queue.RetryDelays)
	assert.Equal(t, 2, cfg.Queue.MaxAttempts)
	assert.Equal(t, 0, cfg.RateLimit.NumberLimit)
	assert.Equal(t, "secret", cfg.Auth.SharedSecret)
}

func TestGetEnvDelaysMalformed(t *testing.T) {
	t.Setenv("RQ_RETRY_DELAYS", "5,abc")

	cfg := Load()

	// Malformed schedules fall back to the built-in default.
	assert.Equal(t, 5*time.Second, cfg.Queue.RetryDelays[0])
	assert.Len(t, cfg.Queue.RetryDelays, 4)
}
