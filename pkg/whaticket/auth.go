package whaticket

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zapflow/zapflow/pkg/cache"
)

// jwtExpiryMargin is subtracted from the token lifetime so a cached token
// never expires mid-request.
const jwtExpiryMargin = 60 * time.Second

const defaultJWTTTL = 10 * time.Minute

func (c *Client) usesJWT() bool {
	return c.cfg.BearerToken == "" && c.cfg.LoginURL != ""
}

// token returns the credential for the Authorization header: the static
// bearer token when configured, otherwise a JWT from the cache or a fresh
// login.
func (c *Client) token(ctx context.Context, tenantID int64) (string, error) {
	if c.cfg.BearerToken != "" {
		return c.cfg.BearerToken, nil
	}
	if c.cfg.LoginURL == "" {
		return "", &Error{Message: "no gateway credentials configured"}
	}

	key := cache.GatewayJWTKey(tenantID)
	if token, hit, err := c.cache.GetString(ctx, key); err != nil {
		slog.Warn("JWT cache read failed, logging in", "tenant_id", tenantID, "error", err)
	} else if hit {
		return token, nil
	}

	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}

	if err := c.cache.SetString(ctx, key, token, jwtTTL(token)); err != nil {
		slog.Warn("JWT cache write failed", "tenant_id", tenantID, "error", err)
	}
	return token, nil
}

func (c *Client) invalidateToken(ctx context.Context, tenantID int64) {
	if !c.usesJWT() {
		return
	}
	if err := c.cache.Delete(ctx, cache.GatewayJWTKey(tenantID)); err != nil {
		slog.Warn("JWT cache invalidation failed", "tenant_id", tenantID, "error", err)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login obtains a fresh JWT from the gateway's login endpoint. Login
// failures are retryable only on server errors.
func (c *Client) login(ctx context.Context) (string, error) {
	payload, err := json.Marshal(loginRequest{
		Email:    c.cfg.JWTEmail,
		Password: c.cfg.JWTPassword,
	})
	if err != nil {
		return "", &Error{Message: "encode login request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Message: "build login request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Retryable: true, Message: "login: " + err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Retryable: true, Message: "read login response: " + err.Error()}
	}
	if resp.StatusCode >= 500 {
		return "", &Error{Status: resp.StatusCode, Retryable: true, Message: "login failed"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Status: resp.StatusCode, Message: "login failed"}
	}

	var parsed loginResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Token == "" {
		return "", &Error{Message: "login response has no token"}
	}
	return parsed.Token, nil
}

// jwtTTL derives the cache TTL from the token's exp claim minus the safety
// margin. Tokens without a parseable expiry get a short default.
func jwtTTL(token string) time.Duration {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return defaultJWTTTL
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return defaultJWTTTL
	}

	ttl := time.Until(exp.Time) - jwtExpiryMargin
	if ttl <= 0 {
		return defaultJWTTTL
	}
	return ttl
}
