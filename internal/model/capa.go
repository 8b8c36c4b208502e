package model

import (
	"time"

	"github.com/google/uuid"
)

// CAPAStatus is the lifecycle state of a corrective action. OVERDUE is
// assigned when the due date passes with the action unresolved.
type CAPAStatus string

const (
	CAPAOpen                CAPAStatus = "OPEN"
	CAPAInProgress          CAPAStatus = "IN_PROGRESS"
	CAPAPendingVerification CAPAStatus = "PENDING_VERIFICATION"
	CAPAClosed              CAPAStatus = "CLOSED"
	CAPAOverdue             CAPAStatus = "OVERDUE"
)

// Due-date offsets applied at CAPA creation, by severity.
const (
	CAPADueDaysMajor = 30
	CAPADueDaysMinor = 60
)

// CAPARecord is a corrective/preventive action raised against a
// nonconformity, usually from an audit checklist item.
type CAPARecord struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"org_id"`
	AuditID         *uuid.UUID      `json:"audit_id,omitempty"`
	ChecklistItemID *uuid.UUID      `json:"checklist_item_id,omitempty"`
	Element         ISOElement      `json:"element"`
	Severity        FindingSeverity `json:"severity"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          CAPAStatus      `json:"status"`
	DueDate         time.Time       `json:"due_date"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CAPADueDate returns the due date for a corrective action of the given
// severity created at the given instant.
func CAPADueDate(severity FindingSeverity, createdAt time.Time) time.Time {
	days := CAPADueDaysMinor
	if severity == SeverityMajor {
		days = CAPADueDaysMajor
	}
	return createdAt.AddDate(0, 0, days)
}
