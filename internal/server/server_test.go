package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooflinehq/roofline/internal/auth"
	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
	"github.com/rooflinehq/roofline/internal/ratelimit"
	"github.com/rooflinehq/roofline/internal/server"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
	"github.com/rooflinehq/roofline/internal/testutil"
)

const testAdminKey = "test-admin-key-do-not-use-in-prod"

var (
	testDB      *storage.DB
	testHandler http.Handler
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create jwt manager: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	pol := policy.Default()
	complianceSvc := compliance.New(testDB, pol, logger)
	auditSvc := audits.New(testDB, complianceSvc, pol, logger)

	limiter := ratelimit.NewMemory()
	srv := server.New(server.ServerConfig{
		DB:                   testDB,
		JWTMgr:               jwtMgr,
		ComplianceSvc:        complianceSvc,
		AuditSvc:             auditSvc,
		Logger:               logger,
		Limiter:              limiter,
		Port:                 0,
		ReadTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		Version:              "test",
		AdminAPIKey:          testAdminKey,
		MaxRequestBodyBytes:  1 << 20,
		RateLimitPerMinute:   10000,
		RecalcLimitPerMinute: 10000,
	})
	testHandler = srv.Handler()

	code := m.Run()

	_ = limiter.Close()
	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

// doRequest performs a request against the full middleware chain. An empty
// token sends no Authorization header.
func doRequest(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	testHandler.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the `data` field of the standard response envelope.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

// mkOrgWithKey creates an organization and mints a raw API key for it.
func mkOrgWithKey(t *testing.T) (model.Organization, string) {
	t.Helper()
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	org, err := testDB.CreateOrganization(ctx, model.Organization{
		Name: "Summit Roofing " + suffix,
		Slug: "summit-roofing-" + suffix,
		Tier: model.TierCertified,
	})
	require.NoError(t, err)

	rawKey, prefix, err := model.GenerateRawKey()
	require.NoError(t, err)
	hash, err := auth.HashAPIKey(rawKey)
	require.NoError(t, err)
	_, err = testDB.CreateAPIKey(ctx, model.APIKey{
		Prefix:  prefix,
		KeyHash: hash,
		OrgID:   org.ID,
		Label:   "test",
	}, storage.ChangeLogEntry{
		OrgID:        org.ID,
		Actor:        "test",
		Operation:    "create_api_key",
		ResourceType: "api_key",
	})
	require.NoError(t, err)

	return org, rawKey
}

func TestHealthEndpoint(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health model.HealthResponse
	decodeData(t, rec, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Postgres)
	assert.Equal(t, "test", health.Version)
}

func TestAuthRequired(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/audits", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.ErrCodeUnauthorized, errorCode(t, rec))
}

func TestAuthGarbageToken(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/audits", "not-a-real-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRawAPIKeyAuth(t *testing.T) {
	org, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodGet, "/v1/organizations/"+org.ID.String()+"/compliance", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.ComplianceResult
	decodeData(t, rec, &result)
	assert.Equal(t, org.ID, result.OrgID)
}

func TestRawAPIKeyUnknownPrefix(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/audits", "rfl_00000000_nonexistent", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthTokenExchange(t *testing.T) {
	org, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: rawKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tok model.AuthTokenResponse
	decodeData(t, rec, &tok)
	require.NotEmpty(t, tok.Token)
	assert.True(t, tok.ExpiresAt.After(time.Now()))

	// The session token works on authenticated routes.
	rec = doRequest(t, http.MethodGet, "/v1/organizations/"+org.ID.String()+"/compliance", tok.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenExchangeBadKey(t *testing.T) {
	rec := doRequest(t, http.MethodPost, "/auth/token", "", model.AuthTokenRequest{APIKey: "rfl_deadbeef_wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestComplianceCrossOrgForbidden(t *testing.T) {
	_, rawKeyA := mkOrgWithKey(t)
	orgB, _ := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodGet, "/v1/organizations/"+orgB.ID.String()+"/compliance", rawKeyA, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, model.ErrCodeForbidden, errorCode(t, rec))
}

func TestAdminKeyCrossOrgAccess(t *testing.T) {
	org, _ := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodGet, "/v1/organizations/"+org.ID.String()+"/compliance", testAdminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.ComplianceResult
	decodeData(t, rec, &result)
	assert.Equal(t, org.ID, result.OrgID)
}

func TestRecalculatePersistsScore(t *testing.T) {
	ctx := context.Background()
	org, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/organizations/"+org.ID.String()+"/compliance/recalculate", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result model.ComplianceResult
	decodeData(t, rec, &result)

	got, err := testDB.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ComplianceScore)
	assert.Equal(t, result.OverallScore, *got.ComplianceScore)
}

func TestComplianceUnknownOrg(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/organizations/"+uuid.NewString()+"/compliance", testAdminKey, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, rec))
}

func TestComplianceMalformedOrgID(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/organizations/not-a-uuid/compliance", testAdminKey, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditLifecycle(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	// Schedule.
	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, model.CreateAuditRequest{
		Type:          model.AuditAnnual,
		ScheduledDate: time.Now().AddDate(0, 0, 7),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var audit model.Audit
	decodeData(t, rec, &audit)
	assert.Equal(t, model.AuditScheduled, audit.Status)

	// Record findings: one conforming, one major nonconformity.
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/items", rawKey, model.AddChecklistItemRequest{
		Element:  model.ElementQualityPolicy,
		Response: model.ResponseConforming,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	finding := "No documented fall-protection plan for steep-slope work"
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/items", rawKey, model.AddChecklistItemRequest{
		Element:  model.ElementProcessControl,
		Response: model.ResponseMajor,
		Finding:  &finding,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Complete.
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/complete", rawKey, model.CompleteAuditRequest{
		Rating:  model.RatingConditionalPass,
		Summary: "Conditional pass pending fall-protection remediation",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.CompleteAuditResult
	decodeData(t, rec, &result)
	assert.Equal(t, model.AuditCompleted, result.Audit.Status)
	assert.Len(t, result.CreatedCAPAIDs, 1)

	// Completed audit shows its checklist.
	rec = doRequest(t, http.MethodGet, "/v1/audits/"+audit.ID.String(), rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Audit          model.Audit                `json:"audit"`
		ChecklistItems []model.AuditChecklistItem `json:"checklist_items"`
	}
	decodeData(t, rec, &detail)
	assert.Equal(t, model.AuditCompleted, detail.Audit.Status)
	assert.Len(t, detail.ChecklistItems, 2)

	// Double completion conflicts.
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/complete", rawKey, model.CompleteAuditRequest{
		Rating:  model.RatingPass,
		Summary: "second attempt",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrCodeConflict, errorCode(t, rec))

	// Terminal audits reject further checklist items.
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/items", rawKey, model.AddChecklistItemRequest{
		Element:  model.ElementRecordKeeping,
		Response: model.ResponseConforming,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompleteAuditInvalidRating(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, model.CreateAuditRequest{
		Type:          model.AuditRandom,
		ScheduledDate: time.Now(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var audit model.Audit
	decodeData(t, rec, &audit)

	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/complete", rawKey, map[string]any{
		"rating":  "EXCELLENT",
		"summary": "nope",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))
}

func TestCreateAuditInvalidType(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, map[string]any{
		"type":           "SURPRISE",
		"scheduled_date": time.Now(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAuditCrossOrgReadsAsNotFound(t *testing.T) {
	_, rawKeyA := mkOrgWithKey(t)
	_, rawKeyB := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKeyA, model.CreateAuditRequest{
		Type:          model.AuditAnnual,
		ScheduledDate: time.Now(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var audit model.Audit
	decodeData(t, rec, &audit)

	rec = doRequest(t, http.MethodGet, "/v1/audits/"+audit.ID.String(), rawKeyB, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuditsStatusFilter(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	for range 3 {
		rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, model.CreateAuditRequest{
			Type:          model.AuditAnnual,
			ScheduledDate: time.Now(),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, http.MethodGet, "/v1/audits?status=SCHEDULED", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Audits []model.Audit `json:"audits"`
		Total  int           `json:"total"`
	}
	decodeData(t, rec, &list)
	assert.Equal(t, 3, list.Total)

	rec = doRequest(t, http.MethodGet, "/v1/audits?status=COMPLETED", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &list)
	assert.Zero(t, list.Total)

	rec = doRequest(t, http.MethodGet, "/v1/audits?status=BOGUS", rawKey, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCAPAWorkflowOverHTTP(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	// Complete an audit with a minor nonconformity to raise a CAPA.
	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, model.CreateAuditRequest{
		Type:          model.AuditAnnual,
		ScheduledDate: time.Now(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var audit model.Audit
	decodeData(t, rec, &audit)

	finding := "Calibration records missing for torque wrenches"
	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/items", rawKey, model.AddChecklistItemRequest{
		Element:  model.ElementInspectionTesting,
		Response: model.ResponseMinor,
		Finding:  &finding,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, http.MethodPost, "/v1/audits/"+audit.ID.String()+"/complete", rawKey, model.CompleteAuditRequest{
		Rating:  model.RatingPassWithObservations,
		Summary: "Pass with one minor finding",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result model.CompleteAuditResult
	decodeData(t, rec, &result)
	require.Len(t, result.CreatedCAPAIDs, 1)
	capaID := result.CreatedCAPAIDs[0]

	// Listed as open.
	rec = doRequest(t, http.MethodGet, "/v1/capas?status=OPEN", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var capaList struct {
		CAPAs []model.CAPARecord `json:"capas"`
	}
	decodeData(t, rec, &capaList)
	require.Len(t, capaList.CAPAs, 1)
	assert.Equal(t, capaID, capaList.CAPAs[0].ID)

	// Advance through the lifecycle.
	for _, status := range []model.CAPAStatus{model.CAPAInProgress, model.CAPAPendingVerification, model.CAPAClosed} {
		rec = doRequest(t, http.MethodPost, "/v1/capas/"+capaID.String()+"/status", rawKey, model.UpdateCAPAStatusRequest{Status: status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var capa model.CAPARecord
		decodeData(t, rec, &capa)
		assert.Equal(t, status, capa.Status)
	}

	// OPEN cannot be requested by callers.
	rec = doRequest(t, http.MethodPost, "/v1/capas/"+capaID.String()+"/status", rawKey, map[string]any{"status": "OPEN"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCAPAStatusUnknownID(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/capas/"+uuid.NewString()+"/status", rawKey,
		model.UpdateCAPAStatusRequest{Status: model.CAPAInProgress})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyManagement(t *testing.T) {
	org, rawKey := mkOrgWithKey(t)

	// Mint a second key using the first.
	rec := doRequest(t, http.MethodPost, "/v1/keys", rawKey, model.CreateAPIKeyRequest{Label: "ci"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.CreateAPIKeyResponse
	decodeData(t, rec, &created)
	require.NotEmpty(t, created.RawKey)
	assert.Equal(t, org.ID, created.Key.OrgID)

	// The fresh key authenticates.
	rec = doRequest(t, http.MethodGet, "/v1/keys", created.RawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var keyList struct {
		Keys []model.APIKey `json:"keys"`
	}
	decodeData(t, rec, &keyList)
	assert.Len(t, keyList.Keys, 2)

	// Revoke it; it stops working immediately.
	rec = doRequest(t, http.MethodDelete, "/v1/keys/"+created.Key.ID.String(), rawKey, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, http.MethodGet, "/v1/keys", created.RawKey, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminMintsKeyForNamedOrg(t *testing.T) {
	org, _ := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/keys", testAdminKey, model.CreateAPIKeyRequest{
		OrgID: &org.ID,
		Label: "provisioned",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.CreateAPIKeyResponse
	decodeData(t, rec, &created)
	assert.Equal(t, org.ID, created.Key.OrgID)

	// Admin without org_id is rejected.
	rec = doRequest(t, http.MethodPost, "/v1/keys", testAdminKey, model.CreateAPIKeyRequest{Label: "nowhere"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMintKeyForOtherOrgForbidden(t *testing.T) {
	_, rawKeyA := mkOrgWithKey(t)
	orgB, _ := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/keys", rawKeyA, model.CreateAPIKeyRequest{
		OrgID: &orgB.ID,
		Label: "sneaky",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChangeLogRecordsOperations(t *testing.T) {
	org, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/organizations/"+org.ID.String()+"/compliance/recalculate", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, http.MethodGet, "/v1/changelog", rawKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var log struct {
		Entries []storage.ChangeLogRecord `json:"entries"`
	}
	decodeData(t, rec, &log)

	ops := make([]string, 0, len(log.Entries))
	for _, e := range log.Entries {
		ops = append(ops, e.Operation)
	}
	assert.Contains(t, ops, "recalculate_compliance")
}

func TestUnknownFieldRejected(t *testing.T) {
	_, rawKey := mkOrgWithKey(t)

	rec := doRequest(t, http.MethodPost, "/v1/audits", rawKey, map[string]any{
		"type":           "ANNUAL",
		"scheduled_date": time.Now(),
		"surprise":       true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	rec := httptest.NewRecorder()
	testHandler.ServeHTTP(rec, req)

	assert.Equal(t, "req-abc-123", rec.Header().Get("X-Request-ID"))

	var envelope struct {
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "req-abc-123", envelope.Meta.RequestID)
}
