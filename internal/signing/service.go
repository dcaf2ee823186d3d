// Package signing orchestrates document signing and signature re-validation.
// It ties the certificate lifecycle, the CMS primitives, the timestamp client
// and the signature store together into the two operations the subsystem
// exists for: Sign and Validate.
package signing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsign/signserver/internal/cms"
	"github.com/clinsign/signserver/internal/errs"
	"github.com/clinsign/signserver/internal/models"
	"github.com/clinsign/signserver/internal/tsa"
)

// CertificateStore is the certificate persistence contract the service needs
type CertificateStore interface {
	GetActive(ctx context.Context, signerID string) (*models.CertificateRecord, error)
	IncrementSignatureCount(ctx context.Context, id string) error
}

// SignatureStore persists signature records and their validation state
type SignatureStore interface {
	Save(ctx context.Context, sig *models.SignatureRecord) error
	GetByID(ctx context.Context, id string) (*models.SignatureRecord, error)
	GetByDocument(ctx context.Context, documentID string, documentType models.DocumentType) ([]*models.SignatureRecord, error)
	UpdateValidation(ctx context.Context, id string, valid bool, validatedAt time.Time) error
}

// AuditStore records signing and validation events
type AuditStore interface {
	Record(ctx context.Context, entry *models.AuditLog) error
}

// TimestampClient obtains and re-validates RFC 3161 tokens
type TimestampClient interface {
	RequestTimestamp(ctx context.Context, hashHex string) *tsa.Token
	ValidateToken(tokenBytes []byte) bool
}

// CredentialLoader resolves a certificate record into a signing credential
type CredentialLoader interface {
	LoadSigningCredential(ctx context.Context, rec *models.CertificateRecord, password string) (*cms.Credential, error)
}

// SignRequest carries everything needed to sign one document
type SignRequest struct {
	SignerID     string
	TenantID     string
	DocumentID   string
	DocumentType string
	Document     []byte

	// Password unlocks a software key bundle; ignored for hardware tokens
	Password string

	ClientIP string
}

// Service implements document signing and signature validation
type Service struct {
	certs      CertificateStore
	signatures SignatureStore
	audit      AuditStore
	loader     CredentialLoader
	timestamps TimestampClient
	location   string
	logger     zerolog.Logger
}

// NewService creates a signing service. location is the declared signing
// location recorded on every signature.
func NewService(certs CertificateStore, signatures SignatureStore, audit AuditStore, loader CredentialLoader, timestamps TimestampClient, location string, logger zerolog.Logger) *Service {
	return &Service{
		certs:      certs,
		signatures: signatures,
		audit:      audit,
		loader:     loader,
		timestamps: timestamps,
		location:   location,
		logger:     logger,
	}
}

// Sign produces a detached signature over document content using the signer's
// active certificate. A timestamp is requested but its absence never fails
// the operation. Nothing is persisted unless the signature itself succeeds.
func (s *Service) Sign(ctx context.Context, req *SignRequest) (*models.SignatureRecord, error) {
	if req.SignerID == "" || req.TenantID == "" || req.DocumentID == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "signer id, tenant id and document id are required")
	}
	if len(req.Document) == 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "document content is empty")
	}

	docType, err := models.ParseDocumentType(req.DocumentType)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, "invalid document type", err)
	}

	cert, err := s.certs.GetActive(ctx, req.SignerID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, errs.Newf(errs.CodeNoActiveCertificate, "signer %s has no active certificate", req.SignerID)
	}

	now := time.Now()
	if !cert.Valid || cert.IsExpired(now) {
		return nil, errs.Newf(errs.CodeCertificateExpired, "certificate %s is expired or invalidated", cert.ID)
	}

	cred, err := s.loader.LoadSigningCredential(ctx, cert, req.Password)
	if err != nil {
		s.recordAudit(ctx, models.ActionDocumentSign, req, cert.ID, false, errs.CodeOf(err))
		return nil, err
	}

	hashHex := cms.HashDocument(req.Document)

	sigBytes, err := cms.SignDetached(cred, req.Document)
	if err != nil {
		s.recordAudit(ctx, models.ActionDocumentSign, req, cert.ID, false, errs.CodeSigningFailure)
		return nil, errs.Wrap(errs.CodeSigningFailure, "failed to produce signature", err)
	}

	rec := &models.SignatureRecord{
		ID:             uuid.NewString(),
		DocumentID:     req.DocumentID,
		DocumentType:   docType,
		SignerID:       req.SignerID,
		CertificateID:  cert.ID,
		TenantID:       req.TenantID,
		SignatureBytes: sigBytes,
		DocumentHash:   hashHex,
		SignedAt:       now,
		ClientIP:       req.ClientIP,
		Location:       s.location,
		Valid:          true,
	}

	// Timestamp the signature hash. A TSA outage degrades to an
	// untimestamped signature rather than failing the operation.
	if token := s.timestamps.RequestTimestamp(ctx, hashHex); token != nil {
		rec.HasTimestamp = true
		rec.TimestampTime = token.Time
		rec.TimestampToken = token.Bytes
	} else {
		s.logger.Warn().
			Str("signature_id", rec.ID).
			Str("document_id", req.DocumentID).
			Msg("signature created without timestamp")
	}

	if err := s.signatures.Save(ctx, rec); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "failed to store signature record", err)
	}

	if err := s.certs.IncrementSignatureCount(ctx, cert.ID); err != nil {
		s.logger.Error().Err(err).Str("certificate_id", cert.ID).Msg("failed to increment signature count")
	}

	s.recordAudit(ctx, models.ActionDocumentSign, req, cert.ID, true, "")
	s.logger.Info().
		Str("signature_id", rec.ID).
		Str("document_id", req.DocumentID).
		Str("signer_id", req.SignerID).
		Bool("timestamped", rec.HasTimestamp).
		Msg("document signed")

	return rec, nil
}

// Validate re-validates a stored signature: structural CMS verification over
// the signed attributes, a temporal check against the embedded certificate,
// and timestamp token verification when one was recorded. The document
// content itself is not retained, so the check is content-free. A failing
// check produces an invalid result, not an error; the outcome is cached on
// the record either way.
func (s *Service) Validate(ctx context.Context, signatureID string) (*models.ValidationResult, error) {
	rec, err := s.signatures.GetByID(ctx, signatureID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	info, err := cms.VerifyDetachedStructure(rec.SignatureBytes)
	if err != nil {
		reason := models.ReasonBadStructure
		if errors.Is(err, cms.ErrNoSignerCertificate) {
			reason = models.ReasonCertificateMissing
		}
		s.logger.Debug().Err(err).Str("signature_id", signatureID).Msg("structural verification failed")
		return s.concludeInvalid(ctx, rec, reason, now)
	}

	// The certificate must have been in its validity window at signing time.
	// Later expiry does not retroactively break an existing signature.
	if info.SignerCertificate.NotAfter.Before(rec.SignedAt) || info.SignerCertificate.NotBefore.After(rec.SignedAt) {
		return s.concludeInvalid(ctx, rec, models.ReasonCertExpiredAtSigning, now)
	}

	if rec.HasTimestamp && !s.timestamps.ValidateToken(rec.TimestampToken) {
		return s.concludeInvalid(ctx, rec, models.ReasonBadTimestamp, now)
	}

	if err := s.signatures.UpdateValidation(ctx, rec.ID, true, now); err != nil {
		return nil, err
	}

	s.recordValidationAudit(ctx, rec, true, "")

	return &models.ValidationResult{
		SignatureID: rec.ID,
		Valid:       true,
		SignerID:    rec.SignerID,
		SignerName:  info.SignerCertificate.Subject.CommonName,
		SignedAt:    rec.SignedAt,
		Subject:     info.SignerCertificate.Subject.String(),
		ValidatedAt: now,
	}, nil
}

// ListByDocument returns all signatures on a document, newest first
func (s *Service) ListByDocument(ctx context.Context, documentID, documentType string) ([]*models.SignatureRecord, error) {
	if documentID == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "document id is required")
	}

	docType, err := models.ParseDocumentType(documentType)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidArgument, "invalid document type", err)
	}

	return s.signatures.GetByDocument(ctx, documentID, docType)
}

// concludeInvalid caches a failed validation on the record and returns the
// invalid result
func (s *Service) concludeInvalid(ctx context.Context, rec *models.SignatureRecord, reason string, now time.Time) (*models.ValidationResult, error) {
	if err := s.signatures.UpdateValidation(ctx, rec.ID, false, now); err != nil {
		return nil, err
	}

	s.recordValidationAudit(ctx, rec, false, reason)
	s.logger.Info().
		Str("signature_id", rec.ID).
		Str("reason", reason).
		Msg("signature failed validation")

	return &models.ValidationResult{
		SignatureID: rec.ID,
		Valid:       false,
		Reason:      reason,
		SignerID:    rec.SignerID,
		SignedAt:    rec.SignedAt,
		ValidatedAt: now,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, req *SignRequest, certificateID string, success bool, code errs.Code) {
	entry := &models.AuditLog{
		Action:        action,
		SignerID:      req.SignerID,
		TenantID:      req.TenantID,
		DocumentID:    req.DocumentID,
		CertificateID: certificateID,
		ClientIP:      req.ClientIP,
		Success:       success,
	}
	if !success {
		entry.ErrorMsg = string(code)
	}

	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

func (s *Service) recordValidationAudit(ctx context.Context, rec *models.SignatureRecord, valid bool, reason string) {
	entry := &models.AuditLog{
		Action:        models.ActionSignatureValidate,
		SignerID:      rec.SignerID,
		TenantID:      rec.TenantID,
		DocumentID:    rec.DocumentID,
		CertificateID: rec.CertificateID,
		Success:       valid,
		ErrorMsg:      reason,
	}

	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error().Err(err).Msg("failed to write audit log")
	}
}
