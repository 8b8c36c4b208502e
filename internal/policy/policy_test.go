package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooflinehq/roofline/internal/model"
	"github.com/rooflinehq/roofline/internal/policy"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, policy.Default().Validate())
}

func TestDefaultTables(t *testing.T) {
	p := policy.Default()

	// Every ISO element carries a weight in the expected band.
	for _, element := range model.ISOElements() {
		w, ok := p.ElementWeights[element]
		require.True(t, ok, "element %s missing", element)
		assert.GreaterOrEqual(t, w, 0.7)
		assert.LessOrEqual(t, w, 1.5)
	}

	// Public liability rises 1M -> 2M -> 5M across the tiers.
	for tier, want := range map[model.CertificationTier]int64{
		model.TierAccredited:   1_000_000,
		model.TierCertified:    2_000_000,
		model.TierMasterRoofer: 5_000_000,
	} {
		minimum, required := p.MinimumCoverage(tier, model.PolicyPublicLiability)
		require.True(t, required, "public liability required at %s", tier)
		assert.Equal(t, want, minimum)
	}

	// Motor vehicle and contract works are never required.
	for _, tier := range []model.CertificationTier{model.TierAccredited, model.TierCertified, model.TierMasterRoofer} {
		_, required := p.MinimumCoverage(tier, model.PolicyMotorVehicle)
		assert.False(t, required)
		_, required = p.MinimumCoverage(tier, model.PolicyContractWorks)
		assert.False(t, required)
	}

	assert.Equal(t, []model.PolicyType{model.PolicyPublicLiability}, p.RequiredPolicyTypes(model.TierAccredited))
	assert.Len(t, p.RequiredPolicyTypes(model.TierMasterRoofer), 4)

	threshold, ok := p.Threshold(model.TierCertified)
	require.True(t, ok)
	assert.Equal(t, 70, threshold)
	threshold, ok = p.Threshold(model.TierMasterRoofer)
	require.True(t, ok)
	assert.Equal(t, 90, threshold)
	_, ok = p.Threshold(model.TierAccredited)
	assert.False(t, ok, "lowest tier has no entry threshold")

	// Higher tiers are audited more frequently.
	assert.Less(t,
		p.FrequencyMonths(model.TierMasterRoofer),
		p.FrequencyMonths(model.TierAccredited))
	assert.Equal(t, p.FrequencyMonths(model.TierAccredited), p.FrequencyMonths("bogus"),
		"unknown tiers fall back to the least frequent cadence")
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	p, err := policy.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)

	p, err = policy.Load("")
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
tier_thresholds:
  CERTIFIED: 60
  MASTER_ROOFER: 95
audit_frequency_months:
  ACCREDITED: 12
  CERTIFIED: 12
  MASTER_ROOFER: 6
follow_up_gap_days: 14
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	p, err := policy.Load(path)
	require.NoError(t, err)

	threshold, _ := p.Threshold(model.TierCertified)
	assert.Equal(t, 60, threshold)
	threshold, _ = p.Threshold(model.TierMasterRoofer)
	assert.Equal(t, 95, threshold)
	assert.Equal(t, 6, p.FrequencyMonths(model.TierMasterRoofer))
	assert.Equal(t, 14, p.FollowUpGapDays)

	// Untouched tables keep their defaults.
	assert.Equal(t, policy.Default().ElementWeights, p.ElementWeights)
	assert.Equal(t, policy.Default().Categories, p.Categories)
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
categories:
  documentation: 0.9
  insurance: 0.9
  personnel: 0.1
  audit: 0.1
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := policy.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidateRejectsNonIncreasingMinimums(t *testing.T) {
	p := policy.Default()
	p.InsuranceMinimums[model.TierMasterRoofer][model.PolicyPublicLiability] = 2_000_000

	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must increase with tier")
}
