package models

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	SignerID      string    `json:"signer_id,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	DocumentID    string    `json:"document_id,omitempty"`
	CertificateID string    `json:"certificate_id,omitempty"`
	ClientIP      string    `json:"client_ip,omitempty"`
	Success       bool      `json:"success"`
	ErrorMsg      string    `json:"error_msg,omitempty"`
	Details       string    `json:"details,omitempty"` // JSON
}

// Audit action constants
const (
	ActionCertImport        = "cert_import"
	ActionCertRegister      = "cert_register"
	ActionCertInvalidate    = "cert_invalidate"
	ActionDocumentSign      = "document_sign"
	ActionSignatureValidate = "signature_validate"
)
