package roofline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Roofline server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the raw API key ("rfl_..." or the operator admin key) used to
	// obtain a session token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Roofline compliance API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("roofline: BaseURL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("roofline: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.APIKey, httpClient),
	}, nil
}

// ---------------------------------------------------------------------------
// Compliance scoring
// ---------------------------------------------------------------------------

// GetCompliance evaluates the organization's current compliance score.
// Nothing is persisted; this is a read-only calculation over live data.
func (c *Client) GetCompliance(ctx context.Context, orgID uuid.UUID) (*ComplianceResult, error) {
	var resp ComplianceResult
	if err := c.get(ctx, "/v1/organizations/"+orgID.String()+"/compliance", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecalculateCompliance evaluates, persists, and propagates the organization's
// compliance score. This is the rate-limited write path.
func (c *Client) RecalculateCompliance(ctx context.Context, orgID uuid.UUID) (*ComplianceResult, error) {
	var resp ComplianceResult
	if err := c.post(ctx, "/v1/organizations/"+orgID.String()+"/compliance/recalculate", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Audit workflow
// ---------------------------------------------------------------------------

// CreateAudit schedules a new audit for the caller's organization.
func (c *Client) CreateAudit(ctx context.Context, req CreateAuditRequest) (*Audit, error) {
	var resp Audit
	if err := c.post(ctx, "/v1/audits", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAudit retrieves an audit with its recorded checklist items.
func (c *Client) GetAudit(ctx context.Context, auditID uuid.UUID) (*AuditDetail, error) {
	var resp AuditDetail
	if err := c.get(ctx, "/v1/audits/"+auditID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAuditOptions are optional filters for the ListAudits method.
type ListAuditOptions struct {
	Status AuditStatus
	Limit  int
	Offset int
}

// ListAudits returns the caller organization's audits, newest first.
func (c *Client) ListAudits(ctx context.Context, opts *ListAuditOptions) (*ListAuditsResponse, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			params.Set("status", string(opts.Status))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	path := "/v1/audits"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ListAuditsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddChecklistItem records one auditor finding against a non-terminal audit.
func (c *Client) AddChecklistItem(ctx context.Context, auditID uuid.UUID, req AddChecklistItemRequest) (*ChecklistItem, error) {
	var resp ChecklistItem
	if err := c.post(ctx, "/v1/audits/"+auditID.String()+"/items", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CompleteAudit finalizes an audit: records the rating, raises corrective
// actions for nonconformities, schedules any follow-up, and triggers a
// compliance recalculation.
func (c *Client) CompleteAudit(ctx context.Context, auditID uuid.UUID, req CompleteAuditRequest) (*CompleteAuditResult, error) {
	var resp CompleteAuditResult
	if err := c.post(ctx, "/v1/audits/"+auditID.String()+"/complete", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Corrective actions
// ---------------------------------------------------------------------------

// ListCAPAs returns the caller organization's corrective actions, optionally
// filtered by status ("" returns all).
func (c *Client) ListCAPAs(ctx context.Context, status CAPAStatus) ([]CAPA, error) {
	path := "/v1/capas"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var resp capasResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.CAPAs, nil
}

// UpdateCAPAStatus advances a corrective action to the given status.
// OPEN and OVERDUE are system-assigned and cannot be requested.
func (c *Client) UpdateCAPAStatus(ctx context.Context, capaID uuid.UUID, status CAPAStatus) (*CAPA, error) {
	body := map[string]any{"status": status}
	var resp CAPA
	if err := c.post(ctx, "/v1/capas/"+capaID.String()+"/status", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Key management and audit trail
// ---------------------------------------------------------------------------

// CreateAPIKey mints a new API key. The raw secret is returned exactly once.
// orgID is required when authenticating with the admin key; key-scoped callers
// pass nil to mint for their own organization.
func (c *Client) CreateAPIKey(ctx context.Context, label string, orgID *uuid.UUID) (*CreateAPIKeyResponse, error) {
	body := map[string]any{"label": label}
	if orgID != nil {
		body["org_id"] = orgID.String()
	}
	var resp CreateAPIKeyResponse
	if err := c.post(ctx, "/v1/keys", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAPIKeys lists the caller organization's API keys, revoked included.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	var resp keysResponse
	if err := c.get(ctx, "/v1/keys", &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// RevokeAPIKey revokes an API key. Returns nil on success (204 No Content).
func (c *Client) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	return c.doDelete(ctx, "/v1/keys/"+keyID.String(), nil)
}

// ChangeLog returns the most recent state-changing operations recorded for
// the caller's organization. limit <= 0 uses the server default.
func (c *Client) ChangeLog(ctx context.Context, limit int) ([]ChangeLogEntry, error) {
	path := "/v1/changelog"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp changeLogResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/healthz", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type capasResponse struct {
	CAPAs []CAPA `json:"capas"`
}

type keysResponse struct {
	Keys []APIKey `json:"keys"`
}

type changeLogResponse struct {
	Entries []ChangeLogEntry `json:"entries"`
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("roofline: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("roofline: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("roofline: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doDelete(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("roofline: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("roofline: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("roofline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("roofline: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("roofline: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("roofline: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
