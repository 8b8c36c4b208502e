// Package identity delivers certification metadata to the member-identity
// service. Score recalculations enqueue an IdentitySync row in the same
// transaction as the score write; the Relay drains that outbox and pushes
// each organization's current tier, score, and insurance standing to the
// identity API. Delivery is best-effort with at-least-once semantics: a dead
// identity service can never fail or roll back a score calculation.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/model"
)

// syncTokenTTL is the lifetime of the service token minted per delivery.
const syncTokenTTL = 5 * time.Minute

// Client delivers one identity sync payload.
type Client interface {
	Sync(ctx context.Context, sync model.IdentitySync) error
}

// HTTPClient pushes sync payloads to the identity service over HTTPS,
// authenticating with short-lived Ed25519 service tokens.
type HTTPClient struct {
	baseURL string
	jwt     *auth.JWTManager
	client  *http.Client
}

// NewHTTPClient creates a client for the identity service at baseURL.
func NewHTTPClient(baseURL string, jwtMgr *auth.JWTManager) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		jwt:     jwtMgr,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Sync PUTs the organization's certification state. PUT because the payload
// carries complete current state: redelivery and out-of-order retries
// converge on the newest write.
func (c *HTTPClient) Sync(ctx context.Context, sync model.IdentitySync) error {
	token, _, err := c.jwt.IssueServiceToken("roofline-sync", "identity", syncTokenTTL)
	if err != nil {
		return fmt.Errorf("identity: issue sync token: %w", err)
	}

	body, err := json.Marshal(sync)
	if err != nil {
		return fmt.Errorf("identity: marshal sync: %w", err)
	}

	url := fmt.Sprintf("%s/v1/organizations/%s/certification", c.baseURL, sync.OrgID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: sync request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity: sync returned %s", resp.Status)
	}
	return nil
}

// Noop acknowledges syncs without delivering them, for development when no
// identity service endpoint is configured. The payload is logged so the flow
// stays visible.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a no-op sync client.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger}
}

// Sync logs and drops the payload.
func (n *Noop) Sync(_ context.Context, sync model.IdentitySync) error {
	n.logger.Debug("identity: sync acknowledged locally (no endpoint configured)",
		"org_id", sync.OrgID, "tier", sync.Tier, "score", sync.ComplianceScore)
	return nil
}
