package scoring

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rooflinehq/roofline/internal/model"
)

// Expiry degradation windows for otherwise fully covered policy types.
const (
	expiryCriticalWindow = 30 * 24 * time.Hour
	expiryWarningWindow  = 60 * 24 * time.Hour
)

// ScoreInsurance scores the organization's insurance cover against the
// minimums its tier requires. Policy types the tier does not require are
// skipped entirely. The category score is the mean over required types only;
// a tier requiring nothing scores 100.
func (e Engine) ScoreInsurance(snap model.OrganizationSnapshot, now time.Time) (int, []model.Issue) {
	required := e.policy.RequiredPolicyTypes(snap.Organization.Tier)
	if len(required) == 0 {
		return 100, nil
	}

	var issues []model.Issue
	var total int

	for _, pt := range required {
		minimum, _ := e.policy.MinimumCoverage(snap.Organization.Tier, pt)
		best, found := bestValidPolicy(snap.Policies, pt, now)

		if !found {
			issues = append(issues, issue(model.IssueCritical, model.CategoryInsurance,
				fmt.Sprintf("No valid %s insurance on file (minimum %s required)", policyTypeName(pt), formatDollars(minimum))))
			continue
		}

		if best.CoverageAmount < minimum {
			total += 50
			issues = append(issues, issue(model.IssueWarning, model.CategoryInsurance,
				fmt.Sprintf("%s coverage %s is below the required %s",
					policyTypeName(pt), formatDollars(best.CoverageAmount), formatDollars(minimum))))
			continue
		}

		switch untilExpiry := best.ExpiryDate.Sub(now); {
		case untilExpiry <= expiryCriticalWindow:
			total += 70
			issues = append(issues, issue(model.IssueWarning, model.CategoryInsurance,
				fmt.Sprintf("%s insurance expires in %d days", policyTypeName(pt), daysUntil(untilExpiry))))
		case untilExpiry <= expiryWarningWindow:
			total += 85
			issues = append(issues, issue(model.IssueInfo, model.CategoryInsurance,
				fmt.Sprintf("%s insurance expires in %d days", policyTypeName(pt), daysUntil(untilExpiry))))
		default:
			total += 100
		}
	}

	return clampScore(int(math.Round(float64(total) / float64(len(required))))), issues
}

// bestValidPolicy picks the unexpired policy of the given type with the
// highest coverage.
func bestValidPolicy(policies []model.InsurancePolicy, pt model.PolicyType, now time.Time) (model.InsurancePolicy, bool) {
	var best model.InsurancePolicy
	found := false
	for _, p := range policies {
		if p.PolicyType != pt || !p.ValidAt(now) {
			continue
		}
		if !found || p.CoverageAmount > best.CoverageAmount {
			best = p
			found = true
		}
	}
	return best, found
}

// daysUntil reports the whole days remaining in d, never negative.
func daysUntil(d time.Duration) int {
	days := int(d / (24 * time.Hour))
	if days < 0 {
		return 0
	}
	return days
}

// policyTypeName renders a policy type for issue messages
// ("public-liability" -> "Public Liability").
func policyTypeName(pt model.PolicyType) string {
	s := string(pt)
	out := make([]byte, 0, len(s))
	upper := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			out = append(out, ' ')
			upper = true
			continue
		}
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}

// formatDollars renders a whole-dollar amount with thousands separators.
func formatDollars(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var out []byte
	for i, c := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-$" + string(out)
	}
	return "$" + string(out)
}
