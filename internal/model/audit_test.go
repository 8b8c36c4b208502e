package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rooflinehq/roofline/internal/model"
)

func strPtr(s string) *string { return &s }

func TestTallyChecklist(t *testing.T) {
	items := []model.AuditChecklistItem{
		{Element: model.ElementQualityPolicy, Response: model.ResponseConforming},
		{Element: model.ElementDocumentControl, Response: model.ResponseConforming},
		{Element: model.ElementRecordKeeping, Response: model.ResponseMinor, Finding: strPtr("records incomplete")},
		{Element: model.ElementCorrectiveAction, Response: model.ResponseMajor, Finding: strPtr("no CAPA register")},
		{Element: model.ElementServicing, Response: model.ResponseObservation},
		{Element: model.ElementDesignControl, Response: model.ResponseNotApplicable},
	}

	stats := model.TallyChecklist(items)
	assert.Equal(t, 2, stats.Conforming)
	assert.Equal(t, 1, stats.Minor)
	assert.Equal(t, 1, stats.Major)
	assert.Equal(t, 1, stats.Observation)
}

func TestTallyChecklist_Empty(t *testing.T) {
	stats := model.TallyChecklist(nil)
	assert.Equal(t, model.ChecklistStats{}, stats)
}

func TestAuditStatusTerminal(t *testing.T) {
	assert.True(t, model.AuditCompleted.Terminal())
	assert.True(t, model.AuditCancelled.Terminal())
	assert.False(t, model.AuditScheduled.Terminal())
	assert.False(t, model.AuditInProgress.Terminal())
	assert.False(t, model.AuditPendingReview.Terminal())
}

func TestNonconformity(t *testing.T) {
	assert.True(t, model.ResponseMinor.Nonconformity())
	assert.True(t, model.ResponseMajor.Nonconformity())
	assert.False(t, model.ResponseConforming.Nonconformity())
	assert.False(t, model.ResponseObservation.Nonconformity())
	assert.False(t, model.ResponseNotApplicable.Nonconformity())
}

func TestCAPADueDate(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	major := model.CAPADueDate(model.SeverityMajor, created)
	assert.Equal(t, created.AddDate(0, 0, 30), major, "major nonconformities are due in 30 days")

	minor := model.CAPADueDate(model.SeverityMinor, created)
	assert.Equal(t, created.AddDate(0, 0, 60), minor, "minor nonconformities are due in 60 days")
}

func TestISOElements(t *testing.T) {
	elements := model.ISOElements()
	assert.Len(t, elements, 19)

	seen := make(map[model.ISOElement]bool, len(elements))
	for _, e := range elements {
		assert.False(t, seen[e], "duplicate element %q", e)
		seen[e] = true
		assert.True(t, model.ValidISOElement(e))
		assert.NotEmpty(t, model.ElementTitle(e))
	}

	assert.False(t, model.ValidISOElement(model.ISOElement("welding")))
	assert.Equal(t, "welding", model.ElementTitle(model.ISOElement("welding")),
		"unknown elements fall back to the raw value")
}
