// Package certs manages the certificate lifecycle: import of software (A1)
// key bundles, registration of hardware (A3) tokens, credential loading for
// signing, and retirement. At most one certificate is active per signer at
// any time.
package certs

import (
	"context"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/clinsign/signserver/internal/cms"
	"github.com/clinsign/signserver/internal/errs"
	"github.com/clinsign/signserver/internal/models"
	"github.com/clinsign/signserver/internal/token"
	"github.com/clinsign/signserver/pkg/certutil"
)

// Store is the certificate persistence contract the manager requires
type Store interface {
	// GetActive returns the signer's active certificate, nil if none
	GetActive(ctx context.Context, signerID string) (*models.CertificateRecord, error)
	// GetByID returns a certificate or a NOT_FOUND error
	GetByID(ctx context.Context, id string) (*models.CertificateRecord, error)
	// ReplaceActive atomically retires the signer's active certificate and
	// inserts the new record
	ReplaceActive(ctx context.Context, cert *models.CertificateRecord) error
	// SetValid flips only the valid flag
	SetValid(ctx context.Context, id string, valid bool) error
}

// Encryptor encrypts key material at rest; key management is external
type Encryptor interface {
	EncryptBytes(plaintext []byte) ([]byte, error)
	DecryptBytes(ciphertext []byte) ([]byte, error)
}

// AuditStore records certificate lifecycle events
type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// Manager imports, validates and retires certificates, and bridges a
// certificate record to a usable signing credential.
type Manager struct {
	store     Store
	encryptor Encryptor
	directory token.Directory
	trust     *TrustPolicy
	audit     AuditStore
	logger    zerolog.Logger
}

// NewManager creates a certificate manager
func NewManager(store Store, encryptor Encryptor, directory token.Directory, trust *TrustPolicy, audit AuditStore, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		encryptor: encryptor,
		directory: directory,
		trust:     trust,
		audit:     audit,
		logger:    logger,
	}
}

// ImportSoftwareCertificate imports an A1-style PKCS#12 bundle. The bundle is
// parsed with the supplied password, checked against the issuer allow-list
// and for expiry, then stored encrypted. Any previously active certificate
// for the signer is retired in the same transaction.
func (m *Manager) ImportSoftwareCertificate(ctx context.Context, signerID, tenantID string, bundle []byte, password string) (*models.CertificateRecord, error) {
	if signerID == "" || tenantID == "" || len(bundle) == 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "signer id, tenant id and key bundle are required")
	}

	key, cert, _, err := pkcs12.DecodeChain(bundle, password)
	if err != nil {
		m.recordAudit(ctx, models.ActionCertImport, signerID, tenantID, "", false, "key bundle rejected")
		return nil, errs.Wrap(errs.CodeInvalidCredential, "failed to parse key bundle", err)
	}

	if err := m.checkCertificate(cert); err != nil {
		m.recordAudit(ctx, models.ActionCertImport, signerID, tenantID, "", false, err.Error())
		return nil, err
	}

	encryptedBundle, err := m.encryptor.EncryptBytes(bundle)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to encrypt key bundle", err)
	}

	// Best-effort: store the isolated private key separately as well. A
	// failure here does not fail the import, the bundle alone is sufficient.
	var encryptedKey []byte
	if keyDER, err := x509.MarshalPKCS8PrivateKey(key); err == nil {
		if enc, err := m.encryptor.EncryptBytes(keyDER); err == nil {
			encryptedKey = enc
		}
	} else {
		m.logger.Warn().Str("signer_id", signerID).Msg("could not export private key separately")
	}

	rec := m.newRecord(signerID, tenantID, models.KindSoftwareKey, cert)
	rec.EncryptedBundle = encryptedBundle
	rec.EncryptedPrivateKey = encryptedKey

	if err := m.store.ReplaceActive(ctx, rec); err != nil {
		return nil, err
	}

	m.recordAudit(ctx, models.ActionCertImport, signerID, tenantID, rec.ID, true, "")
	m.logger.Info().
		Str("signer_id", signerID).
		Str("certificate_id", rec.ID).
		Str("subject", rec.SubjectName).
		Time("expires_at", rec.ExpiresAt).
		Msg("software certificate imported")

	return rec, nil
}

// RegisterHardwareCertificate registers an A3-style certificate resident on
// a connected hardware token. Only metadata is stored; the key stays on the
// token.
func (m *Manager) RegisterHardwareCertificate(ctx context.Context, signerID, tenantID, thumbprint string) (*models.CertificateRecord, error) {
	if signerID == "" || tenantID == "" || thumbprint == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "signer id, tenant id and thumbprint are required")
	}

	connected, err := m.directory.FindByThumbprint(ctx, thumbprint)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to enumerate hardware tokens", err)
	}
	if connected == nil {
		m.recordAudit(ctx, models.ActionCertRegister, signerID, tenantID, "", false, "token not connected")
		return nil, errs.Newf(errs.CodeTokenNotConnected, "no connected token holds certificate %s", thumbprint)
	}

	if err := m.checkCertificate(connected.Certificate); err != nil {
		m.recordAudit(ctx, models.ActionCertRegister, signerID, tenantID, "", false, err.Error())
		return nil, err
	}

	rec := m.newRecord(signerID, tenantID, models.KindHardwareToken, connected.Certificate)

	if err := m.store.ReplaceActive(ctx, rec); err != nil {
		return nil, err
	}

	m.recordAudit(ctx, models.ActionCertRegister, signerID, tenantID, rec.ID, true, "")
	m.logger.Info().
		Str("signer_id", signerID).
		Str("certificate_id", rec.ID).
		Str("thumbprint", rec.Thumbprint).
		Msg("hardware certificate registered")

	return rec, nil
}

// LoadSigningCredential turns a certificate record into a usable signing
// credential. Software bundles are decrypted and re-parsed with the supplied
// password; hardware thumbprints are re-resolved against connected tokens on
// every call, never cached.
func (m *Manager) LoadSigningCredential(ctx context.Context, rec *models.CertificateRecord, password string) (*cms.Credential, error) {
	switch rec.Kind {
	case models.KindSoftwareKey:
		bundle, err := m.encryptor.DecryptBytes(rec.EncryptedBundle)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "failed to decrypt key bundle", err)
		}

		key, cert, chain, err := pkcs12.DecodeChain(bundle, password)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidCredential, "failed to parse key bundle", err)
		}

		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, errs.New(errs.CodeInvalidCredential, "key bundle holds an unusable private key")
		}

		return &cms.Credential{Certificate: cert, Chain: chain, Signer: signer}, nil

	case models.KindHardwareToken:
		connected, err := m.directory.FindByThumbprint(ctx, rec.Thumbprint)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInternal, "failed to enumerate hardware tokens", err)
		}
		if connected == nil {
			return nil, errs.Newf(errs.CodeTokenNotConnected, "token for certificate %s is not connected", rec.ID)
		}

		return &cms.Credential{Certificate: connected.Certificate, Signer: connected.Signer}, nil
	}

	return nil, errs.Newf(errs.CodeInternal, "unknown certificate kind %q", rec.Kind)
}

// InvalidateCertificate retires a certificate. Invalidating an
// already-invalid certificate succeeds silently.
func (m *Manager) InvalidateCertificate(ctx context.Context, certificateID, signerID string) error {
	rec, err := m.store.GetByID(ctx, certificateID)
	if err != nil {
		return err
	}

	if rec.SignerID != signerID {
		return errs.Newf(errs.CodeNotOwner, "certificate %s does not belong to signer %s", certificateID, signerID)
	}

	if !rec.Valid {
		return nil
	}

	if err := m.store.SetValid(ctx, certificateID, false); err != nil {
		return err
	}

	m.recordAudit(ctx, models.ActionCertInvalidate, signerID, rec.TenantID, certificateID, true, "")
	m.logger.Info().
		Str("signer_id", signerID).
		Str("certificate_id", certificateID).
		Msg("certificate invalidated")

	return nil
}

// checkCertificate applies the issuer allow-list and expiry checks shared by
// import and registration
func (m *Manager) checkCertificate(cert *x509.Certificate) error {
	if !m.trust.IsTrustedIssuer(cert.Issuer.String()) {
		return errs.Newf(errs.CodeUntrustedIssuer, "issuer %q is not in the trusted issuer list", cert.Issuer.String())
	}

	if time.Now().After(cert.NotAfter) {
		return errs.Newf(errs.CodeCertificateExpired, "certificate expired at %s", cert.NotAfter.Format(time.RFC3339))
	}

	return nil
}

// newRecord builds a certificate record from parsed certificate metadata
func (m *Manager) newRecord(signerID, tenantID string, kind models.CertificateKind, cert *x509.Certificate) *models.CertificateRecord {
	return &models.CertificateRecord{
		ID:           uuid.NewString(),
		SignerID:     signerID,
		TenantID:     tenantID,
		Kind:         kind,
		SerialNumber: cert.SerialNumber.String(),
		SubjectName:  cert.Subject.String(),
		IssuerName:   cert.Issuer.String(),
		Thumbprint:   certutil.Thumbprint(cert),
		IssuedAt:     cert.NotBefore,
		ExpiresAt:    cert.NotAfter,
		Valid:        true,
		CreatedAt:    time.Now(),
	}
}

// recordAudit writes an audit row, logging instead of failing on error
func (m *Manager) recordAudit(ctx context.Context, action, signerID, tenantID, certificateID string, success bool, errMsg string) {
	entry := &models.AuditLog{
		Action:        action,
		SignerID:      signerID,
		TenantID:      tenantID,
		CertificateID: certificateID,
		Success:       success,
		ErrorMsg:      errMsg,
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.logger.Error().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}
