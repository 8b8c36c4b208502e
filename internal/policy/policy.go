// Package policy holds the certification rule tables: ISO element weights,
// insurance minimums by tier, tier score thresholds, and audit frequencies.
// The tables are injected configuration so the rule engine can be exercised
// against alternative policies without code changes; compiled defaults can be
// overridden from a YAML file.
package policy

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rooflinehq/roofline/internal/model"
)

// CategoryWeights are the fixed weights combining the four category scores
// into the overall score. They must sum to 1.0.
type CategoryWeights struct {
	Documentation float64 `yaml:"documentation"`
	Insurance     float64 `yaml:"insurance"`
	Personnel     float64 `yaml:"personnel"`
	Audit         float64 `yaml:"audit"`
}

// Policy is the full rule-table set for one deployment.
type Policy struct {
	Categories CategoryWeights `yaml:"categories"`

	// ElementWeights assigns each ISO element its fixed positive weight in
	// the documentation score.
	ElementWeights map[model.ISOElement]float64 `yaml:"element_weights"`

	// InsuranceMinimums maps tier -> policy type -> minimum coverage in whole
	// dollars. A type absent for a tier is not required at that tier.
	InsuranceMinimums map[model.CertificationTier]map[model.PolicyType]int64 `yaml:"insurance_minimums"`

	// TierThresholds maps a target tier to the minimum overall score required
	// to be promoted into it. The lowest tier has no threshold.
	TierThresholds map[model.CertificationTier]int `yaml:"tier_thresholds"`

	// AuditFrequencyMonths maps a tier to how many months pass between
	// scheduled audits. Higher tiers are audited more frequently.
	AuditFrequencyMonths map[model.CertificationTier]int `yaml:"audit_frequency_months"`

	// FollowUpGapDays is how far out a follow-up audit is scheduled after a
	// failed or conditional completion.
	FollowUpGapDays int `yaml:"follow_up_gap_days"`

	// MasterVerifiedLicenses is the minimum count of verified licensed
	// members required for promotion to the top tier.
	MasterVerifiedLicenses int `yaml:"master_verified_licenses"`
}

// Default returns the production rule tables.
func Default() Policy {
	return Policy{
		Categories: CategoryWeights{
			Documentation: 0.50,
			Insurance:     0.25,
			Personnel:     0.15,
			Audit:         0.10,
		},
		ElementWeights: map[model.ISOElement]float64{
			model.ElementQualityPolicy:         1.5,
			model.ElementQualityManual:         1.3,
			model.ElementDocumentControl:       1.3,
			model.ElementRecordKeeping:         1.2,
			model.ElementManagementReview:      1.1,
			model.ElementInternalAudit:         1.3,
			model.ElementCorrectiveAction:      1.4,
			model.ElementPreventiveAction:      1.0,
			model.ElementTrainingCompetency:    1.2,
			model.ElementCustomerRequirements:  1.1,
			model.ElementDesignControl:         0.8,
			model.ElementPurchasing:            0.9,
			model.ElementSupplierManagement:    0.8,
			model.ElementProductIdentification: 0.7,
			model.ElementProcessControl:        1.2,
			model.ElementInspectionTesting:     1.1,
			model.ElementNonconformingProduct:  1.0,
			model.ElementHandlingStorage:       0.7,
			model.ElementServicing:             0.7,
		},
		InsuranceMinimums: map[model.CertificationTier]map[model.PolicyType]int64{
			model.TierAccredited: {
				model.PolicyPublicLiability: 1_000_000,
			},
			model.TierCertified: {
				model.PolicyPublicLiability:    2_000_000,
				model.PolicyStatutoryLiability: 500_000,
				model.PolicyEmployersLiability: 250_000,
			},
			model.TierMasterRoofer: {
				model.PolicyPublicLiability:       5_000_000,
				model.PolicyStatutoryLiability:    1_000_000,
				model.PolicyEmployersLiability:    500_000,
				model.PolicyProfessionalIndemnity: 500_000,
			},
		},
		TierThresholds: map[model.CertificationTier]int{
			model.TierCertified:    70,
			model.TierMasterRoofer: 90,
		},
		AuditFrequencyMonths: map[model.CertificationTier]int{
			model.TierAccredited:   24,
			model.TierCertified:    18,
			model.TierMasterRoofer: 12,
		},
		FollowUpGapDays:        30,
		MasterVerifiedLicenses: 2,
	}
}

// Load reads a policy file from the given path, applied over the defaults.
// If path is empty or the file does not exist, the defaults are returned.
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: parse %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy: %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the structural invariants of the rule tables.
func (p Policy) Validate() error {
	sum := p.Categories.Documentation + p.Categories.Insurance + p.Categories.Personnel + p.Categories.Audit
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("category weights must sum to 1.0 (got %v)", sum)
	}

	for _, element := range model.ISOElements() {
		w, ok := p.ElementWeights[element]
		if !ok {
			return fmt.Errorf("element %s has no weight", element)
		}
		if w <= 0 {
			return fmt.Errorf("element %s has non-positive weight %v", element, w)
		}
	}

	// Minimums must rise strictly with tier for every type required at more
	// than one tier.
	tiers := []model.CertificationTier{model.TierAccredited, model.TierCertified, model.TierMasterRoofer}
	for _, pt := range model.PolicyTypes() {
		prev := int64(-1)
		for _, tier := range tiers {
			minimum, required := p.MinimumCoverage(tier, pt)
			if !required {
				continue
			}
			if minimum <= 0 {
				return fmt.Errorf("%s minimum for %s must be positive", pt, tier)
			}
			if prev >= 0 && minimum <= prev {
				return fmt.Errorf("%s minimum must increase with tier (%d then %d)", pt, prev, minimum)
			}
			prev = minimum
		}
	}

	for _, tier := range []model.CertificationTier{model.TierCertified, model.TierMasterRoofer} {
		threshold, ok := p.TierThresholds[tier]
		if !ok {
			return fmt.Errorf("no score threshold for tier %s", tier)
		}
		if threshold < 0 || threshold > 100 {
			return fmt.Errorf("threshold for tier %s out of range: %d", tier, threshold)
		}
	}

	for _, tier := range tiers {
		months, ok := p.AuditFrequencyMonths[tier]
		if !ok {
			return fmt.Errorf("no audit frequency for tier %s", tier)
		}
		if months <= 0 {
			return fmt.Errorf("audit frequency for tier %s must be positive", tier)
		}
	}

	if p.FollowUpGapDays <= 0 {
		return fmt.Errorf("follow_up_gap_days must be positive")
	}
	if p.MasterVerifiedLicenses < 1 {
		return fmt.Errorf("master_verified_licenses must be at least 1")
	}
	return nil
}

// MinimumCoverage returns the minimum required coverage for a policy type at
// a tier. The second return is false when the type is not required there.
func (p Policy) MinimumCoverage(tier model.CertificationTier, pt model.PolicyType) (int64, bool) {
	byType, ok := p.InsuranceMinimums[tier]
	if !ok {
		return 0, false
	}
	minimum, ok := byType[pt]
	return minimum, ok
}

// RequiredPolicyTypes lists the policy types required at a tier, in the
// stable model.PolicyTypes order.
func (p Policy) RequiredPolicyTypes(tier model.CertificationTier) []model.PolicyType {
	var required []model.PolicyType
	for _, pt := range model.PolicyTypes() {
		if _, ok := p.MinimumCoverage(tier, pt); ok {
			required = append(required, pt)
		}
	}
	return required
}

// Threshold returns the minimum overall score for promotion into the given
// tier. The second return is false for tiers with no threshold.
func (p Policy) Threshold(tier model.CertificationTier) (int, bool) {
	threshold, ok := p.TierThresholds[tier]
	return threshold, ok
}

// FrequencyMonths returns the scheduled audit cadence for a tier, falling
// back to the least frequent cadence for unknown tiers.
func (p Policy) FrequencyMonths(tier model.CertificationTier) int {
	if months, ok := p.AuditFrequencyMonths[tier]; ok {
		return months
	}
	return p.AuditFrequencyMonths[model.TierAccredited]
}
