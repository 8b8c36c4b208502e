package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rooflinehq/roofline/internal/model"
)

func TestCompleteAuditRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     model.CompleteAuditRequest
		wantErr string
	}{
		{
			name: "valid pass",
			req:  model.CompleteAuditRequest{Rating: model.RatingPass, Summary: "all good"},
		},
		{
			name: "valid fail",
			req:  model.CompleteAuditRequest{Rating: model.RatingFail, Summary: "multiple major findings"},
		},
		{
			name:    "unknown rating",
			req:     model.CompleteAuditRequest{Rating: "EXCELLENT", Summary: "x"},
			wantErr: "rating must be one of",
		},
		{
			name:    "empty rating",
			req:     model.CompleteAuditRequest{Summary: "x"},
			wantErr: "rating must be one of",
		},
		{
			name:    "missing summary",
			req:     model.CompleteAuditRequest{Rating: model.RatingPass},
			wantErr: "summary is required",
		},
		{
			name: "oversized summary",
			req: model.CompleteAuditRequest{
				Rating:  model.RatingPass,
				Summary: strings.Repeat("a", model.MaxSummaryLen+1),
			},
			wantErr: "summary exceeds maximum length",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestShouldCreateCAPAs(t *testing.T) {
	var req model.CompleteAuditRequest
	assert.True(t, req.ShouldCreateCAPAs(), "defaults to true when unset")

	f := false
	req.CreateCAPAs = &f
	assert.False(t, req.ShouldCreateCAPAs())

	tr := true
	req.CreateCAPAs = &tr
	assert.True(t, req.ShouldCreateCAPAs())
}

func TestGenerateAndParseRawKey(t *testing.T) {
	rawKey, prefix, err := model.GenerateRawKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawKey, "rfl_"))
	assert.Len(t, prefix, 8)

	parsedPrefix, fullKey, err := model.ParseRawKey(rawKey)
	require.NoError(t, err)
	assert.Equal(t, prefix, parsedPrefix)
	assert.Equal(t, rawKey, fullKey)
}

func TestParseRawKey_Invalid(t *testing.T) {
	for _, raw := range []string{"", "nope", "ak_abcd_secret", "rfl_", "rfl_noseparator", "rfl__x", "rfl_abcd_"} {
		_, _, err := model.ParseRawKey(raw)
		assert.Error(t, err, "expected invalid: %q", raw)
	}
}
