package scoring

import (
	"time"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
)

// testNow is the fixed evaluation instant used across the scorer tests.
var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testEngine() Engine {
	return New(policy.Default())
}

func snapshotFor(tier model.CertificationTier) model.OrganizationSnapshot {
	return model.OrganizationSnapshot{
		Organization: model.Organization{
			ID:   uuid.New(),
			Name: "Apex Roofing Ltd",
			Slug: "apex-roofing",
			Tier: tier,
		},
		LoadedAt: testNow,
	}
}

func strp(s string) *string { return &s }

func timep(t time.Time) *time.Time { return &t }

func validPolicy(pt model.PolicyType, coverage int64, expiry time.Time) model.InsurancePolicy {
	return model.InsurancePolicy{
		ID:             uuid.New(),
		PolicyType:     pt,
		Insurer:        "Southern Cross Mutual",
		PolicyNumber:   "SCM-1042",
		CoverageAmount: coverage,
		ExpiryDate:     expiry,
	}
}

func member(role model.MemberRole, license string, verified bool, expiry *time.Time) model.OrganizationMember {
	m := model.OrganizationMember{
		ID:              uuid.New(),
		FullName:        "Test Member",
		Role:            role,
		Status:          model.MemberActive,
		LicenseVerified: verified,
		LicenseExpiry:   expiry,
	}
	if license != "" {
		m.LicenseNumber = &license
	}
	return m
}

func document(el model.ISOElement, status model.DocumentStatus) model.Document {
	return model.Document{
		ID:      uuid.New(),
		Title:   model.ElementTitle(el),
		Element: el,
		Status:  status,
		Version: 1,
	}
}

func assessment(el model.ISOElement, score int, status model.AssessmentStatus) model.ComplianceAssessment {
	return model.ComplianceAssessment{
		ID:         uuid.New(),
		Element:    el,
		Score:      score,
		Status:     status,
		AssessedAt: testNow.AddDate(0, -1, 0),
	}
}

func completedAudit(rating model.AuditRating, completedAt time.Time) *model.Audit {
	return &model.Audit{
		ID:          uuid.New(),
		Type:        model.AuditAnnual,
		Status:      model.AuditCompleted,
		Rating:      &rating,
		CompletedAt: timep(completedAt),
	}
}

func capa(status model.CAPAStatus) model.CAPARecord {
	return model.CAPARecord{
		ID:       uuid.New(),
		Element:  model.ElementCorrectiveAction,
		Severity: model.SeverityMinor,
		Title:    "Close out finding",
		Status:   status,
		DueDate:  testNow.AddDate(0, 0, 30),
	}
}

func countSeverity(issues []model.Issue, severity model.IssueSeverity) int {
	n := 0
	for _, iss := range issues {
		if iss.Severity == severity {
			n++
		}
	}
	return n
}
