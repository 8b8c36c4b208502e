package model

import (
	"time"

	"github.com/google/uuid"
)

// ISOElement identifies one of the fixed quality-management elements that
// documentation, assessments, and audit checklists are organized under.
type ISOElement string

const (
	ElementQualityPolicy         ISOElement = "quality-policy"
	ElementQualityManual         ISOElement = "quality-manual"
	ElementDocumentControl       ISOElement = "document-control"
	ElementRecordKeeping         ISOElement = "record-keeping"
	ElementManagementReview      ISOElement = "management-review"
	ElementInternalAudit         ISOElement = "internal-audit"
	ElementCorrectiveAction      ISOElement = "corrective-action"
	ElementPreventiveAction      ISOElement = "preventive-action"
	ElementTrainingCompetency    ISOElement = "training-competency"
	ElementCustomerRequirements  ISOElement = "customer-requirements"
	ElementDesignControl         ISOElement = "design-control"
	ElementPurchasing            ISOElement = "purchasing"
	ElementSupplierManagement    ISOElement = "supplier-management"
	ElementProductIdentification ISOElement = "product-identification"
	ElementProcessControl        ISOElement = "process-control"
	ElementInspectionTesting     ISOElement = "inspection-testing"
	ElementNonconformingProduct  ISOElement = "nonconforming-product"
	ElementHandlingStorage       ISOElement = "handling-storage"
	ElementServicing             ISOElement = "servicing"
)

// elementTitles maps each element to its display name, used in issue
// messages and corrective-action titles.
var elementTitles = map[ISOElement]string{
	ElementQualityPolicy:         "Quality Policy",
	ElementQualityManual:         "Quality Manual",
	ElementDocumentControl:       "Document Control",
	ElementRecordKeeping:         "Record Keeping",
	ElementManagementReview:      "Management Review",
	ElementInternalAudit:         "Internal Audit",
	ElementCorrectiveAction:      "Corrective Action",
	ElementPreventiveAction:      "Preventive Action",
	ElementTrainingCompetency:    "Training and Competency",
	ElementCustomerRequirements:  "Customer Requirements",
	ElementDesignControl:         "Design Control",
	ElementPurchasing:            "Purchasing",
	ElementSupplierManagement:    "Supplier Management",
	ElementProductIdentification: "Product Identification",
	ElementProcessControl:        "Process Control",
	ElementInspectionTesting:     "Inspection and Testing",
	ElementNonconformingProduct:  "Nonconforming Product",
	ElementHandlingStorage:       "Handling and Storage",
	ElementServicing:             "Servicing",
}

// ISOElements lists all quality-management elements in stable order.
func ISOElements() []ISOElement {
	return []ISOElement{
		ElementQualityPolicy,
		ElementQualityManual,
		ElementDocumentControl,
		ElementRecordKeeping,
		ElementManagementReview,
		ElementInternalAudit,
		ElementCorrectiveAction,
		ElementPreventiveAction,
		ElementTrainingCompetency,
		ElementCustomerRequirements,
		ElementDesignControl,
		ElementPurchasing,
		ElementSupplierManagement,
		ElementProductIdentification,
		ElementProcessControl,
		ElementInspectionTesting,
		ElementNonconformingProduct,
		ElementHandlingStorage,
		ElementServicing,
	}
}

// ElementTitle returns the display name for an element, falling back to the
// raw value for unknown elements.
func ElementTitle(e ISOElement) string {
	if title, ok := elementTitles[e]; ok {
		return title
	}
	return string(e)
}

// ValidISOElement reports whether e is one of the known elements.
func ValidISOElement(e ISOElement) bool {
	_, ok := elementTitles[e]
	return ok
}

// DocumentStatus is the lifecycle state of a quality document.
type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "DRAFT"
	DocumentPendingApproval DocumentStatus = "PENDING_APPROVAL"
	DocumentApproved        DocumentStatus = "APPROVED"
	DocumentSuperseded      DocumentStatus = "SUPERSEDED"
	DocumentArchived        DocumentStatus = "ARCHIVED"
)

// Document is a quality-management document filed under exactly one ISO
// element. Soft-deleted documents carry DeletedAt and are excluded from
// scoring.
type Document struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     uuid.UUID      `json:"org_id"`
	Title     string         `json:"title"`
	Element   ISOElement     `json:"element"`
	Status    DocumentStatus `json:"status"`
	Version   int            `json:"version"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
