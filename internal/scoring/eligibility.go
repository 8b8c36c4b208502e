package scoring

import (
	"fmt"

	"github.com/rooflinehq/roofline/internal/model"
)

// EvaluateEligibility determines whether the organization qualifies for the
// tier above its current one. Organizations already at the top tier have no
// next tier and are never eligible for upgrade.
func (e Engine) EvaluateEligibility(snap model.OrganizationSnapshot, overall int, issues []model.Issue) model.TierEligibility {
	current := snap.Organization.Tier
	eligibility := model.TierEligibility{
		CurrentTier: current,
		Blockers:    []string{},
	}

	next, ok := model.NextTier(current)
	if !ok {
		return eligibility
	}
	eligibility.NextTier = &next

	if threshold, ok := e.policy.Threshold(next); ok && overall < threshold {
		eligibility.Blockers = append(eligibility.Blockers,
			fmt.Sprintf("Overall score %d is below the required %d for %s", overall, threshold, next))
	}

	criticals := 0
	for _, iss := range issues {
		if iss.Severity == model.IssueCritical {
			criticals++
		}
	}
	if criticals > 0 {
		eligibility.Blockers = append(eligibility.Blockers,
			fmt.Sprintf("%d critical %s must be resolved", criticals, pluralize(criticals, "issue", "issues")))
	}

	if next == model.TierMasterRoofer {
		if have := snap.VerifiedLicenseCount(); have < e.policy.MasterVerifiedLicenses {
			eligibility.Blockers = append(eligibility.Blockers,
				fmt.Sprintf("At least %d members with verified licenses required (have %d)",
					e.policy.MasterVerifiedLicenses, have))
		}
	}

	eligibility.EligibleForUpgrade = len(eligibility.Blockers) == 0
	return eligibility
}
