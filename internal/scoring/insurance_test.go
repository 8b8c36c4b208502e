package scoring

import (
	"strings"
	"testing"

	"github.com/rooflinehq/roofline/internal/model"
)

func TestScoreInsurance_FullyCovered(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 1_000_000, testNow.AddDate(1, 0, 0)),
	}

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 100 {
		t.Fatalf("score = %d, want 100", score)
	}
	if len(issues) != 0 {
		t.Fatalf("issues = %v, want none", issues)
	}
}

func TestScoreInsurance_ExpiringSoon(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name         string
		daysToExpiry int
		wantScore    int
		wantSeverity model.IssueSeverity
	}{
		{"25 days", 25, 70, model.IssueWarning},
		{"30 days", 30, 70, model.IssueWarning},
		{"45 days", 45, 85, model.IssueInfo},
		{"60 days", 60, 85, model.IssueInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshotFor(model.TierAccredited)
			snap.Policies = []model.InsurancePolicy{
				validPolicy(model.PolicyPublicLiability, 1_500_000, testNow.AddDate(0, 0, tt.daysToExpiry)),
			}

			score, issues := e.ScoreInsurance(snap, testNow)
			if score != tt.wantScore {
				t.Fatalf("score = %d, want %d", score, tt.wantScore)
			}
			if len(issues) != 1 {
				t.Fatalf("issues = %d, want exactly one", len(issues))
			}
			if issues[0].Severity != tt.wantSeverity {
				t.Errorf("severity = %q, want %q", issues[0].Severity, tt.wantSeverity)
			}
			if !strings.Contains(issues[0].Message, "expires in") {
				t.Errorf("message = %q", issues[0].Message)
			}
		})
	}
}

func TestScoreInsurance_BelowMinimum(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 500_000, testNow.AddDate(1, 0, 0)),
	}

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 50 {
		t.Fatalf("score = %d, want 50", score)
	}
	if len(issues) != 1 || issues[0].Severity != model.IssueWarning {
		t.Fatalf("issues = %+v, want one warning", issues)
	}
	// The message cites both the held and the required amount.
	if !strings.Contains(issues[0].Message, "$500,000") || !strings.Contains(issues[0].Message, "$1,000,000") {
		t.Errorf("message = %q, want both amounts cited", issues[0].Message)
	}
}

func TestScoreInsurance_MissingRequired(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 0 {
		t.Fatalf("score = %d, want 0", score)
	}
	if len(issues) != 1 || issues[0].Severity != model.IssueCritical {
		t.Fatalf("issues = %+v, want one critical", issues)
	}
}

func TestScoreInsurance_ExpiredCountsAsMissing(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 2_000_000, testNow.AddDate(0, 0, -1)),
	}

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 0 {
		t.Fatalf("score = %d, want 0", score)
	}
	if countSeverity(issues, model.IssueCritical) != 1 {
		t.Fatalf("issues = %+v, want one critical", issues)
	}
}

func TestScoreInsurance_ExpiryExactlyNowIsInvalid(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 2_000_000, testNow),
	}

	score, _ := e.ScoreInsurance(snap, testNow)
	if score != 0 {
		t.Fatalf("score = %d, want 0 (validity requires expiry strictly in the future)", score)
	}
}

func TestScoreInsurance_MeanOverRequiredTypes(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierMasterRoofer)
	snap.Policies = []model.InsurancePolicy{
		// Fine: at minimum, far from expiry.
		validPolicy(model.PolicyPublicLiability, 5_000_000, testNow.AddDate(1, 0, 0)),
		// Below the 1M master minimum.
		validPolicy(model.PolicyStatutoryLiability, 600_000, testNow.AddDate(1, 0, 0)),
		// Covered but expiring inside 30 days.
		validPolicy(model.PolicyProfessionalIndemnity, 500_000, testNow.AddDate(0, 0, 20)),
		// Employers liability absent entirely.
	}

	score, issues := e.ScoreInsurance(snap, testNow)

	// (100 + 50 + 70 + 0) / 4 = 55.
	if score != 55 {
		t.Fatalf("score = %d, want 55", score)
	}
	if countSeverity(issues, model.IssueCritical) != 1 {
		t.Errorf("criticals = %d, want 1 for the missing type", countSeverity(issues, model.IssueCritical))
	}
	if countSeverity(issues, model.IssueWarning) != 2 {
		t.Errorf("warnings = %d, want 2 (below minimum + expiring)", countSeverity(issues, model.IssueWarning))
	}
}

func TestScoreInsurance_OptionalTypesSkipped(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 1_000_000, testNow.AddDate(1, 0, 0)),
		// Expired motor vehicle cover must not touch the score: the tier does
		// not require it.
		validPolicy(model.PolicyMotorVehicle, 100_000, testNow.AddDate(0, 0, -30)),
	}

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 100 {
		t.Fatalf("score = %d, want 100", score)
	}
	if len(issues) != 0 {
		t.Fatalf("issues = %v, want none", issues)
	}
}

func TestScoreInsurance_PicksHighestCoverage(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	snap.Policies = []model.InsurancePolicy{
		validPolicy(model.PolicyPublicLiability, 500_000, testNow.AddDate(1, 0, 0)),
		validPolicy(model.PolicyPublicLiability, 2_000_000, testNow.AddDate(1, 0, 0)),
	}

	score, issues := e.ScoreInsurance(snap, testNow)
	if score != 100 || len(issues) != 0 {
		t.Fatalf("score = %d issues = %v, want 100 with none", score, issues)
	}
}

func TestFormatDollars(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "$0"},
		{950, "$950"},
		{1_000, "$1,000"},
		{250_000, "$250,000"},
		{5_000_000, "$5,000,000"},
	}
	for _, tt := range tests {
		if got := formatDollars(tt.in); got != tt.want {
			t.Errorf("formatDollars(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPolicyTypeName(t *testing.T) {
	if got := policyTypeName(model.PolicyPublicLiability); got != "Public Liability" {
		t.Errorf("policyTypeName = %q", got)
	}
	if got := policyTypeName(model.PolicyEmployersLiability); got != "Employers Liability" {
		t.Errorf("policyTypeName = %q", got)
	}
}
