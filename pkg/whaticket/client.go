// Package whaticket sends outbound WhatsApp messages through the Whaticket
// gateway, classifying failures as retryable or permanent.
package whaticket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/zapflow/zapflow/pkg/cache"
	"github.com/zapflow/zapflow/pkg/config"
	"github.com/zapflow/zapflow/pkg/masking"
	"github.com/zapflow/zapflow/pkg/metrics"
)

const retryBackoffBase = 500 * time.Millisecond

// Error is a classified gateway failure. Retryable errors (>=500, network,
// expired credentials) follow the queue's retry policy; the rest are
// permanent.
type Error struct {
	Status    int
	Retryable bool
	Message   string
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Status > 0 {
		return fmt.Sprintf("whaticket %s error: status %d: %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("whaticket %s error: %s", kind, e.Message)
}

// IsRetryable reports whether err is a gateway error worth retrying.
// Unknown errors are permanent.
func IsRetryable(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Retryable
}

// Client sends messages through the gateway with retries and credential
// management. Authentication uses the configured bearer token when set,
// otherwise a JWT obtained from the login endpoint and cached in Redis.
type Client struct {
	httpClient *http.Client
	cfg        config.GatewayConfig

	cache     *cache.Client
	sanitizer *masking.Sanitizer
	metrics   *metrics.Metrics
}

// NewClient creates the gateway client.
func NewClient(cfg config.GatewayConfig, cacheClient *cache.Client, sanitizer *masking.Sanitizer, m *metrics.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		cache:      cacheClient,
		sanitizer:  sanitizer,
		metrics:    m,
	}
}

type sendRequest struct {
	Number    string `json:"number"`
	Body      string `json:"body"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// SendText delivers a text message and returns the gateway's message id
// when provided.
func (c *Client) SendText(ctx context.Context, tenantID int64, number, body string) (string, error) {
	return c.send(ctx, tenantID, sendRequest{Number: number, Body: body})
}

// SendMedia delivers a media message with an optional caption body.
func (c *Client) SendMedia(ctx context.Context, tenantID int64, number, body, mediaURL, mediaType string) (string, error) {
	return c.send(ctx, tenantID, sendRequest{
		Number: number, Body: body, MediaURL: mediaURL, MediaType: mediaType,
	})
}

func (c *Client) send(ctx context.Context, tenantID int64, req sendRequest) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.WhaticketSendRetry.Inc()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		start := time.Now()
		id, err := c.sendOnce(ctx, tenantID, req)
		c.metrics.WhaticketLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			c.metrics.WhaticketSendSuccess.Inc()
			return id, nil
		}

		lastErr = err
		kind := "permanent"
		if IsRetryable(err) {
			kind = "retryable"
		}
		c.metrics.WhaticketErrors.WithLabelValues(kind).Inc()
		slog.Warn("Gateway send failed",
			"tenant_id", tenantID,
			"number", req.Number,
			"attempt", attempt+1,
			"kind", kind,
			"error", c.sanitizer.Sanitize(err.Error()))

		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) sendOnce(ctx context.Context, tenantID int64, req sendRequest) (string, error) {
	token, err := c.token(ctx, tenantID)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", &Error{Message: "encode send request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Message: "build send request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &Error{Retryable: true, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Retryable: true, Message: "read response: " + err.Error()}
	}

	switch {
	case resp.StatusCode >= 500:
		return "", &Error{Status: resp.StatusCode, Retryable: true, Message: string(body)}
	case resp.StatusCode == http.StatusUnauthorized:
		// A cached JWT may have expired server-side; drop it so the next
		// attempt logs in again.
		c.invalidateToken(ctx, tenantID)
		return "", &Error{Status: resp.StatusCode, Retryable: c.usesJWT(), Message: string(body)}
	case resp.StatusCode >= 400:
		return "", &Error{Status: resp.StatusCode, Message: string(body)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.ID != "" {
		return parsed.ID, nil
	}
	// Some gateway versions answer with a bare text acknowledgement; keep
	// it as the external id. An empty body yields "".
	return strings.TrimSpace(string(body)), nil
}

func backoff(attempt int) time.Duration {
	d := retryBackoffBase << (attempt - 1)
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
