package scoring

import (
	"fmt"
	"time"

	"github.com/rooflinehq/roofline/internal/model"
)

// auditStaleAfter is how long after the last completed audit the score
// starts degrading.
const auditStaleAfter = 365 * 24 * time.Hour

// overdueCAPAPenalty is subtracted per overdue corrective action. Unlike the
// expired-license penalty this one is proportional.
const overdueCAPAPenalty = 10

// ScoreAudits scores the organization's audit history and corrective-action
// discipline: a baseline from the most recent completed audit's rating,
// degraded when that audit is more than a year old and for every overdue
// corrective action.
func (e Engine) ScoreAudits(snap model.OrganizationSnapshot, now time.Time) (int, []model.Issue) {
	var issues []model.Issue
	var score int

	audit := snap.LatestAudit
	switch {
	case audit == nil || audit.Rating == nil:
		score = 50
		issues = append(issues, issue(model.IssueInfo, model.CategoryAudit, "No completed audits"))
	case *audit.Rating == model.RatingPass:
		score = 100
	case *audit.Rating == model.RatingPassWithObservations:
		score = 85
	case *audit.Rating == model.RatingConditionalPass:
		score = 60
		issues = append(issues, issue(model.IssueWarning, model.CategoryAudit,
			"Most recent audit was a conditional pass"))
	case *audit.Rating == model.RatingFail:
		score = 30
		issues = append(issues, issue(model.IssueCritical, model.CategoryAudit,
			"Most recent audit failed"))
	}

	if audit != nil && audit.CompletedAt != nil && now.Sub(*audit.CompletedAt) > auditStaleAfter {
		score -= 20
		issues = append(issues, issue(model.IssueWarning, model.CategoryAudit,
			"Audit overdue: last audit was more than a year ago"))
	}

	overdue := 0
	for _, capa := range snap.CAPAs {
		if capa.Status == model.CAPAOverdue {
			overdue++
		}
	}
	if overdue > 0 {
		score -= overdue * overdueCAPAPenalty
		issues = append(issues, issue(model.IssueCritical, model.CategoryAudit,
			fmt.Sprintf("%d overdue corrective %s", overdue, pluralize(overdue, "action", "actions"))))
	}

	return clampScore(score), issues
}
