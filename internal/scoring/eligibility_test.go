package scoring

import (
	"strings"
	"testing"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
)

func TestEligibility_TopTierHasNoNextTier(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierMasterRoofer)

	elig := e.EvaluateEligibility(snap, 100, nil)
	if elig.NextTier != nil {
		t.Fatalf("NextTier = %v, want nil", *elig.NextTier)
	}
	if elig.EligibleForUpgrade {
		t.Error("EligibleForUpgrade = true, want false at the top tier")
	}
	if len(elig.Blockers) != 0 {
		t.Errorf("Blockers = %v, want empty", elig.Blockers)
	}
}

func TestEligibility_ScoreBelowThreshold(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)

	elig := e.EvaluateEligibility(snap, 69, nil)
	if elig.NextTier == nil || *elig.NextTier != model.TierCertified {
		t.Fatalf("NextTier = %v, want CERTIFIED", elig.NextTier)
	}
	if elig.EligibleForUpgrade {
		t.Error("EligibleForUpgrade = true, want false")
	}
	if len(elig.Blockers) != 1 {
		t.Fatalf("Blockers = %v, want exactly one", elig.Blockers)
	}
	if !strings.Contains(elig.Blockers[0], "69") || !strings.Contains(elig.Blockers[0], "70") {
		t.Errorf("blocker %q should name both the score and the threshold", elig.Blockers[0])
	}
}

func TestEligibility_ThresholdMetAndClean(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)

	elig := e.EvaluateEligibility(snap, 70, nil)
	if !elig.EligibleForUpgrade {
		t.Fatalf("EligibleForUpgrade = false, blockers = %v", elig.Blockers)
	}
	if len(elig.Blockers) != 0 {
		t.Errorf("Blockers = %v, want empty", elig.Blockers)
	}
}

func TestEligibility_CriticalIssuesBlock(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)
	issues := []model.Issue{
		{Category: model.CategoryInsurance, Severity: model.IssueCritical, Message: "no cover"},
		{Category: model.CategoryPersonnel, Severity: model.IssueCritical, Message: "expired license"},
		{Category: model.CategoryDocumentation, Severity: model.IssueWarning, Message: "missing doc"},
	}

	elig := e.EvaluateEligibility(snap, 95, issues)
	if elig.EligibleForUpgrade {
		t.Fatal("EligibleForUpgrade = true, want false with criticals open")
	}
	if len(elig.Blockers) != 1 {
		t.Fatalf("Blockers = %v, want exactly one", elig.Blockers)
	}
	if !strings.Contains(elig.Blockers[0], "2 critical issues") {
		t.Errorf("blocker %q should cite the critical count", elig.Blockers[0])
	}
}

func TestEligibility_MasterRooferRequiresVerifiedLicenses(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierCertified)
	snap.Members = []model.OrganizationMember{
		member(model.RoleOwner, "LBP-100200", true, nil),
		member(model.RoleStaff, "LBP-100201", false, nil),
	}

	elig := e.EvaluateEligibility(snap, 95, nil)
	if elig.NextTier == nil || *elig.NextTier != model.TierMasterRoofer {
		t.Fatalf("NextTier = %v, want MASTER_ROOFER", elig.NextTier)
	}
	if elig.EligibleForUpgrade {
		t.Fatal("EligibleForUpgrade = true, want false with one verified license")
	}
	if len(elig.Blockers) != 1 {
		t.Fatalf("Blockers = %v, want exactly one", elig.Blockers)
	}
	if !strings.Contains(elig.Blockers[0], "have 1") {
		t.Errorf("blocker %q should report the verified count", elig.Blockers[0])
	}

	snap.Members[1].LicenseVerified = true
	elig = e.EvaluateEligibility(snap, 95, nil)
	if !elig.EligibleForUpgrade {
		t.Fatalf("EligibleForUpgrade = false after second verification, blockers = %v", elig.Blockers)
	}
}

func TestEligibility_LicenseRuleOnlyGuardsMasterRoofer(t *testing.T) {
	e := testEngine()
	snap := snapshotFor(model.TierAccredited)

	// No members at all, but the verified-license rule applies only to the
	// MASTER_ROOFER step.
	elig := e.EvaluateEligibility(snap, 80, nil)
	if !elig.EligibleForUpgrade {
		t.Fatalf("EligibleForUpgrade = false, blockers = %v", elig.Blockers)
	}
}

func TestEligibility_CustomThreshold(t *testing.T) {
	p := policy.Default()
	p.TierThresholds[model.TierCertified] = 80
	e := New(p)
	snap := snapshotFor(model.TierAccredited)

	elig := e.EvaluateEligibility(snap, 75, nil)
	if elig.EligibleForUpgrade {
		t.Fatal("EligibleForUpgrade = true, want false under raised threshold")
	}
	if len(elig.Blockers) != 1 || !strings.Contains(elig.Blockers[0], "80") {
		t.Errorf("Blockers = %v, want one naming the raised threshold", elig.Blockers)
	}
}
