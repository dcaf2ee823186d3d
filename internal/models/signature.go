package models

import "time"

// SignatureRecord represents one completed signature event.
// SignatureBytes and DocumentHash are immutable once created; only Valid and
// LastValidatedAt change afterwards, and only through explicit validation.
type SignatureRecord struct {
	ID            string       `json:"id"`
	DocumentID    string       `json:"document_id"`
	DocumentType  DocumentType `json:"document_type"`
	SignerID      string       `json:"signer_id"`
	CertificateID string       `json:"certificate_id"`
	TenantID      string       `json:"tenant_id"`

	SignatureBytes []byte    `json:"-"`
	DocumentHash   string    `json:"document_hash"`
	SignedAt       time.Time `json:"signed_at"`
	ClientIP       string    `json:"client_ip"`
	Location       string    `json:"location,omitempty"`

	HasTimestamp   bool      `json:"has_timestamp"`
	TimestampTime  time.Time `json:"timestamp_time,omitempty"`
	TimestampToken []byte    `json:"-"`

	Valid           bool       `json:"valid"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// ValidationResult is the outcome of validating a stored signature.
// An invalid signature is a result, not an error: Valid is false and Reason
// names the failing check.
type ValidationResult struct {
	SignatureID string    `json:"signature_id"`
	Valid       bool      `json:"valid"`
	Reason      string    `json:"reason,omitempty"`
	SignerID    string    `json:"signer_id,omitempty"`
	SignerName  string    `json:"signer_name,omitempty"`
	SignedAt    time.Time `json:"signed_at,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Validation failure reasons
const (
	ReasonBadStructure         = "bad signature structure"
	ReasonCertificateMissing   = "certificate missing"
	ReasonCertExpiredAtSigning = "certificate expired at signing time"
	ReasonBadTimestamp         = "bad timestamp"
)
