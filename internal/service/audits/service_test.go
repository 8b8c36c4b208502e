package audits_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
	"github.com/rooflinehq/roofline/internal/service/audits"
	"github.com/rooflinehq/roofline/internal/service/compliance"
	"github.com/rooflinehq/roofline/internal/storage"
)

var (
	testDB  *storage.DB
	testSvc *audits.Service
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "roofline",
			"POSTGRES_PASSWORD": "roofline",
			"POSTGRES_DB":       "roofline",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://roofline:roofline@%s:%s/roofline?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testDB, err = storage.New(ctx, dsn, "", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.RunMigrations(ctx, os.DirFS("../../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "migrations failed: %v\n", err)
		os.Exit(1)
	}

	pol := policy.Default()
	complianceSvc := compliance.New(testDB, pol, logger)
	testSvc = audits.New(testDB, complianceSvc, pol, logger)

	code := m.Run()
	testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func mkOrg(t *testing.T, tier model.CertificationTier) model.Organization {
	t.Helper()
	suffix := uuid.NewString()[:8]
	org, err := testDB.CreateOrganization(context.Background(), model.Organization{
		Name: "Summit Roofing " + suffix,
		Slug: "summit-" + suffix,
		Tier: tier,
	})
	require.NoError(t, err)
	return org
}

func mkAudit(t *testing.T, orgID uuid.UUID) model.Audit {
	t.Helper()
	audit, err := testDB.CreateAudit(context.Background(), model.Audit{
		OrgID:         orgID,
		Type:          model.AuditAnnual,
		ScheduledDate: time.Now().UTC(),
	})
	require.NoError(t, err)
	return audit
}

func addItem(t *testing.T, auditID uuid.UUID, seq int, resp model.ChecklistResponse, el model.ISOElement, finding string) {
	t.Helper()
	it := model.AuditChecklistItem{
		AuditID:  auditID,
		Element:  el,
		Response: resp,
		Sequence: seq,
	}
	if finding != "" {
		it.Finding = &finding
	}
	_, err := testDB.AddChecklistItem(context.Background(), it)
	require.NoError(t, err)
}

func TestComplete_PassWithNoFindings(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)
	addItem(t, audit.ID, 1, model.ResponseConforming, model.ElementQualityPolicy, "")
	addItem(t, audit.ID, 2, model.ResponseConforming, model.ElementDocumentControl, "")

	result, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  model.RatingPass,
		Summary: "All sampled elements conforming.",
	})
	require.NoError(t, err)

	assert.Equal(t, model.AuditCompleted, result.Audit.Status)
	require.NotNil(t, result.Audit.Rating)
	assert.Equal(t, model.RatingPass, *result.Audit.Rating)
	assert.Equal(t, 2, result.Stats.Conforming)
	assert.Empty(t, result.CreatedCAPAIDs)
	assert.Nil(t, result.FollowUpAudit, "PASS never schedules a follow-up")
	assert.False(t, result.Audit.FollowUpRequired)

	// The organization's schedule advanced by the ACCREDITED frequency.
	got, err := testDB.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextAuditDue)
	expected := time.Now().UTC().AddDate(0, 24, 0)
	assert.WithinDuration(t, expected, *got.NextAuditDue, time.Minute)
	require.NotNil(t, got.LastAuditDate)

	// The post-commit recalculation persisted a score.
	require.NotNil(t, got.ComplianceScore)
	require.NotNil(t, got.AuditScore)
	assert.Equal(t, 100, *got.AuditScore, "fresh PASS audit with no CAPAs")
}

func TestComplete_TwoMajorsCreateTwoCAPAs(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)
	addItem(t, audit.ID, 1, model.ResponseMajor, model.ElementProcessControl, "No documented process controls")
	addItem(t, audit.ID, 2, model.ResponseMajor, model.ElementRecordKeeping, "Job records missing for two sites")

	result, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  model.RatingConditionalPass,
		Summary: "Two major nonconformities identified.",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedCAPAIDs, 2)
	assert.Equal(t, 2, result.Stats.Major)

	require.NotNil(t, result.Audit.CompletedAt)
	wantDue := result.Audit.CompletedAt.AddDate(0, 0, 30)
	for _, id := range result.CreatedCAPAIDs {
		capa, err := testDB.GetCAPA(ctx, org.ID, id)
		require.NoError(t, err)
		assert.Equal(t, model.CAPAOpen, capa.Status)
		assert.Equal(t, model.SeverityMajor, capa.Severity)
		assert.True(t, capa.DueDate.Equal(wantDue), "MAJOR due 30 days after completion")
	}
}

func TestComplete_SecondCallFails(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)
	addItem(t, audit.ID, 1, model.ResponseMinor, model.ElementDocumentControl, "Outdated templates")

	req := model.CompleteAuditRequest{
		Rating:  model.RatingPassWithObservations,
		Summary: "Minor housekeeping issues.",
	}
	first, err := testSvc.Complete(ctx, org.ID, audit.ID, req)
	require.NoError(t, err)
	require.Len(t, first.CreatedCAPAIDs, 1)

	_, err = testSvc.Complete(ctx, org.ID, audit.ID, req)
	require.ErrorIs(t, err, storage.ErrConflict)

	// The failed repeat left the CAPA count unchanged.
	capas, err := testDB.ListCAPAs(ctx, org.ID, nil)
	require.NoError(t, err)
	assert.Len(t, capas, 1)
}

func TestComplete_FailSchedulesFollowUp(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)
	addItem(t, audit.ID, 1, model.ResponseMajor, model.ElementInternalAudit, "No internal audits conducted")

	result, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  model.RatingFail,
		Summary: "Systemic failures across the quality system.",
	})
	require.NoError(t, err)

	assert.True(t, result.Audit.FollowUpRequired)
	require.NotNil(t, result.Audit.FollowUpDue)
	require.NotNil(t, result.FollowUpAudit)
	assert.Equal(t, model.AuditFollowUp, result.FollowUpAudit.Type)
	assert.Equal(t, model.AuditScheduled, result.FollowUpAudit.Status)
	require.NotNil(t, result.FollowUpAudit.FollowUpOf)
	assert.Equal(t, audit.ID, *result.FollowUpAudit.FollowUpOf)

	// Scheduled at the configured gap from completion.
	expected := time.Now().UTC().AddDate(0, 0, policy.Default().FollowUpGapDays)
	assert.WithinDuration(t, expected, result.FollowUpAudit.ScheduledDate, time.Minute)
}

func TestComplete_ExplicitFollowUpFlag(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)

	due := time.Now().UTC().AddDate(0, 2, 0)
	result, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:           model.RatingPass,
		Summary:          "Clean, but auditor requested a check-in.",
		FollowUpRequired: true,
		FollowUpDue:      &due,
	})
	require.NoError(t, err)
	assert.True(t, result.Audit.FollowUpRequired)
	require.NotNil(t, result.Audit.FollowUpDue)
	assert.True(t, result.Audit.FollowUpDue.Equal(due))
	assert.Nil(t, result.FollowUpAudit, "only FAIL and CONDITIONAL_PASS auto-schedule")
}

func TestComplete_SkipCAPAs(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)
	addItem(t, audit.ID, 1, model.ResponseMinor, model.ElementPurchasing, "Supplier list out of date")

	skip := false
	result, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:      model.RatingPassWithObservations,
		Summary:     "Findings handled directly on site.",
		CreateCAPAs: &skip,
	})
	require.NoError(t, err)
	assert.Empty(t, result.CreatedCAPAIDs)
	assert.Equal(t, 1, result.Stats.Minor, "counts are tallied even when CAPAs are skipped")
}

func TestComplete_InvalidRating(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, org.ID)

	_, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  "SHINY",
		Summary: "n/a",
	})
	require.ErrorIs(t, err, audits.ErrInvalidInput)
}

func TestComplete_UnknownAudit(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierAccredited)

	_, err := testSvc.Complete(ctx, org.ID, uuid.New(), model.CompleteAuditRequest{
		Rating:  model.RatingPass,
		Summary: "n/a",
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestComplete_CrossOrgAuditReadsAsMissing(t *testing.T) {
	ctx := context.Background()
	orgA := mkOrg(t, model.TierAccredited)
	orgB := mkOrg(t, model.TierAccredited)
	audit := mkAudit(t, orgB.ID)

	_, err := testSvc.Complete(ctx, orgA.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  model.RatingPass,
		Summary: "n/a",
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestComplete_TierFrequency(t *testing.T) {
	ctx := context.Background()
	org := mkOrg(t, model.TierMasterRoofer)
	audit := mkAudit(t, org.ID)

	_, err := testSvc.Complete(ctx, org.ID, audit.ID, model.CompleteAuditRequest{
		Rating:  model.RatingPass,
		Summary: "Exemplary.",
	})
	require.NoError(t, err)

	got, err := testDB.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextAuditDue)
	expected := time.Now().UTC().AddDate(0, 12, 0)
	assert.WithinDuration(t, expected, *got.NextAuditDue, time.Minute,
		"top tier is audited every 12 months")
}
