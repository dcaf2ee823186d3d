package models

import "fmt"

// DocumentType is the closed set of clinical document categories that can be
// signed. Values are validated at the boundary; an unknown tag is rejected
// before any cryptographic work happens.
type DocumentType string

const (
	DocTypeClinicalNote  DocumentType = "clinical_note"
	DocTypePrescription  DocumentType = "prescription"
	DocTypeExamRequest   DocumentType = "exam_request"
	DocTypeMedicalReport DocumentType = "medical_report"
	DocTypeConsentForm   DocumentType = "consent_form"
)

// ParseDocumentType validates a document type tag
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case DocTypeClinicalNote, DocTypePrescription, DocTypeExamRequest,
		DocTypeMedicalReport, DocTypeConsentForm:
		return DocumentType(s), nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}
