package scoring

import (
	"fmt"
	"time"

	"github.com/rooflinehq/roofline/internal/model"
)

// ScorePersonnel scores staffing and practitioner licensing. The score is
// additive rather than a mean:
//
//   - Owner on record: +30
//   - Licensed members all verified: +50, some verified: +30, none: +15
//   - Any expired license: -10 flat (regardless of count)
//   - Staff count >=2: +20, ==1: +10
//
// The result is clamped to [0,100].
func (e Engine) ScorePersonnel(snap model.OrganizationSnapshot, now time.Time) (int, []model.Issue) {
	var issues []model.Issue
	score := 0

	// Factor 1: an owner is on record.
	hasOwner := false
	for _, m := range snap.Members {
		if m.Role == model.RoleOwner {
			hasOwner = true
			break
		}
	}
	if hasOwner {
		score += 30
	} else {
		issues = append(issues, issue(model.IssueWarning, model.CategoryPersonnel, "No owner assigned"))
	}

	// Factor 2: licensed practitioners and their verification state.
	licensed, verified := 0, 0
	for _, m := range snap.Members {
		if !m.HoldsLicense() {
			continue
		}
		licensed++
		if m.LicenseVerified {
			verified++
		}
	}
	switch {
	case licensed == 0:
		issues = append(issues, issue(model.IssueWarning, model.CategoryPersonnel, "No licensed staff"))
	case verified == licensed:
		score += 50
	case verified > 0:
		score += 30
		pending := licensed - verified
		issues = append(issues, issue(model.IssueWarning, model.CategoryPersonnel,
			fmt.Sprintf("%d licensed %s awaiting verification", pending, pluralize(pending, "member", "members"))))
	default:
		score += 15
		issues = append(issues, issue(model.IssueWarning, model.CategoryPersonnel,
			"No licensed members have a verified license"))
	}

	// Factor 3: expired licenses. A flat penalty however many are expired.
	for _, m := range snap.Members {
		if m.HoldsLicense() && m.LicenseExpired(now) {
			score -= 10
			issues = append(issues, issue(model.IssueCritical, model.CategoryPersonnel,
				"One or more practitioner licenses have expired"))
			break
		}
	}

	// Factor 4: staffing depth.
	staff := 0
	for _, m := range snap.Members {
		if m.Role == model.RoleStaff {
			staff++
		}
	}
	switch {
	case staff >= 2:
		score += 20
	case staff == 1:
		score += 10
		issues = append(issues, issue(model.IssueInfo, model.CategoryPersonnel, "Single staff member"))
	}

	return clampScore(score), issues
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
