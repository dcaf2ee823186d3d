package models

import "time"

// CertificateKind identifies how a signer's private key is held
type CertificateKind string

const (
	// KindSoftwareKey is an A1-style certificate whose key material is stored
	// encrypted by the system
	KindSoftwareKey CertificateKind = "software_key"
	// KindHardwareToken is an A3-style certificate whose key never leaves a
	// connected cryptographic token; only the thumbprint is stored
	KindHardwareToken CertificateKind = "hardware_token"
)

// CertificateRecord represents one signer's credential
type CertificateRecord struct {
	ID       string          `json:"id"`
	SignerID string          `json:"signer_id"`
	TenantID string          `json:"tenant_id"`
	Kind     CertificateKind `json:"kind"`

	SerialNumber string    `json:"serial_number"`
	SubjectName  string    `json:"subject_name"`
	IssuerName   string    `json:"issuer_name"`
	Thumbprint   string    `json:"thumbprint"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`

	Valid          bool  `json:"valid"`
	SignatureCount int64 `json:"signature_count"`

	// EncryptedBundle holds the encrypted PKCS#12 bundle for software keys.
	// EncryptedPrivateKey is the separately exported key, populated best-effort.
	// Both are empty for hardware tokens.
	EncryptedBundle     []byte `json:"-"`
	EncryptedPrivateKey []byte `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the certificate validity ended before now
func (c *CertificateRecord) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
