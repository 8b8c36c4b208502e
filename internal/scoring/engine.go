// Package scoring implements the compliance rule engine: four category
// scorers, tier-eligibility evaluation, and the weighted aggregation that
// produces an organization's overall compliance score.
//
// Every scorer is a pure function of an OrganizationSnapshot, the injected
// policy tables, and an explicit evaluation time. Scorers never return
// errors: missing data yields low scores and issues, which are result data.
package scoring

import (
	"math"
	"time"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
)

// Engine evaluates compliance against one set of policy tables.
type Engine struct {
	policy policy.Policy
}

// New creates an engine bound to the given policy tables.
func New(p policy.Policy) Engine {
	return Engine{policy: p}
}

// Evaluate runs all four scorers, combines them with the category weights,
// and evaluates tier eligibility. The returned issue list preserves scorer
// order: documentation, insurance, personnel, audit.
func (e Engine) Evaluate(snap model.OrganizationSnapshot, now time.Time) model.ComplianceResult {
	issues := make([]model.Issue, 0, 8)

	docScore, docIssues := e.ScoreDocumentation(snap)
	issues = append(issues, docIssues...)

	insScore, insIssues := e.ScoreInsurance(snap, now)
	issues = append(issues, insIssues...)

	persScore, persIssues := e.ScorePersonnel(snap, now)
	issues = append(issues, persIssues...)

	auditScore, auditIssues := e.ScoreAudits(snap, now)
	issues = append(issues, auditIssues...)

	w := e.policy.Categories
	overall := int(math.Round(
		float64(docScore)*w.Documentation +
			float64(insScore)*w.Insurance +
			float64(persScore)*w.Personnel +
			float64(auditScore)*w.Audit))

	return model.ComplianceResult{
		OrgID:        snap.Organization.ID,
		OverallScore: overall,
		Breakdown: model.CategoryScores{
			Documentation: docScore,
			Insurance:     insScore,
			Personnel:     persScore,
			Audit:         auditScore,
		},
		Issues:          issues,
		TierEligibility: e.EvaluateEligibility(snap, overall, issues),
		CalculatedAt:    now,
	}
}

// clampScore bounds a raw score to [0,100].
func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func elementIssue(severity model.IssueSeverity, category model.IssueCategory, element model.ISOElement, message string) model.Issue {
	el := element
	return model.Issue{
		Category: category,
		Severity: severity,
		Message:  message,
		Element:  &el,
	}
}

func issue(severity model.IssueSeverity, category model.IssueCategory, message string) model.Issue {
	return model.Issue{Category: category, Severity: severity, Message: message}
}
