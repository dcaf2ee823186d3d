package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clinsign/signserver/internal/errs"
	"github.com/clinsign/signserver/internal/models"
)

// CertificateRepository handles certificate record data access
type CertificateRepository struct {
	db *sql.DB
}

// NewCertificateRepository creates a new certificate repository
func NewCertificateRepository(db *sql.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `
	id, signer_id, tenant_id, kind, serial_number, subject_name, issuer_name,
	thumbprint, issued_at, expires_at, valid, signature_count,
	encrypted_bundle, encrypted_private_key, created_at`

// ReplaceActive retires any active certificate for the record's signer and
// inserts the new record, in a single transaction. This preserves the
// single-active-certificate invariant under concurrent imports.
func (r *CertificateRepository) ReplaceActive(ctx context.Context, cert *models.CertificateRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE certificates SET valid = 0
		WHERE signer_id = ? AND tenant_id = ? AND valid = 1
	`, cert.SignerID, cert.TenantID)
	if err != nil {
		return fmt.Errorf("failed to retire active certificate: %w", err)
	}

	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO certificates (
			id, signer_id, tenant_id, kind, serial_number, subject_name,
			issuer_name, thumbprint, issued_at, expires_at, valid,
			signature_count, encrypted_bundle, encrypted_private_key, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cert.ID,
		cert.SignerID,
		cert.TenantID,
		string(cert.Kind),
		cert.SerialNumber,
		cert.SubjectName,
		cert.IssuerName,
		cert.Thumbprint,
		cert.IssuedAt,
		cert.ExpiresAt,
		boolToInt(cert.Valid),
		cert.SignatureCount,
		cert.EncryptedBundle,
		cert.EncryptedPrivateKey,
		cert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create certificate record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit certificate record: %w", err)
	}

	return nil
}

// GetActive retrieves the signer's active certificate, nil if none exists
func (r *CertificateRepository) GetActive(ctx context.Context, signerID string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE signer_id = ? AND valid = 1
		ORDER BY created_at DESC
		LIMIT 1`

	cert, err := r.scanOne(r.db.QueryRowContext(ctx, query, signerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active certificate: %w", err)
	}

	return cert, nil
}

// GetByID retrieves a certificate by id
func (r *CertificateRepository) GetByID(ctx context.Context, id string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE id = ?`

	cert, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.CodeNotFound, "certificate %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	return cert, nil
}

// SetValid updates only the valid flag of a certificate record
func (r *CertificateRepository) SetValid(ctx context.Context, id string, valid bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE certificates SET valid = ? WHERE id = ?
	`, boolToInt(valid), id)
	if err != nil {
		return fmt.Errorf("failed to update certificate validity: %w", err)
	}

	return nil
}

// IncrementSignatureCount bumps the signature counter as a single conditional
// update, safe under concurrent signing for the same certificate.
func (r *CertificateRepository) IncrementSignatureCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE certificates SET signature_count = signature_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment signature count: %w", err)
	}

	return nil
}

// ListBySigner lists all certificates for a signer, newest first
func (r *CertificateRepository) ListBySigner(ctx context.Context, signerID string, limit int) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + certificateColumns + `
		FROM certificates
		WHERE signer_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, signerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*models.CertificateRecord
	for rows.Next() {
		cert, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	return certs, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanning
type scanner interface {
	Scan(dest ...any) error
}

func (r *CertificateRepository) scanOne(row scanner) (*models.CertificateRecord, error) {
	cert := &models.CertificateRecord{}
	var kind string
	var valid int

	err := row.Scan(
		&cert.ID,
		&cert.SignerID,
		&cert.TenantID,
		&kind,
		&cert.SerialNumber,
		&cert.SubjectName,
		&cert.IssuerName,
		&cert.Thumbprint,
		&cert.IssuedAt,
		&cert.ExpiresAt,
		&valid,
		&cert.SignatureCount,
		&cert.EncryptedBundle,
		&cert.EncryptedPrivateKey,
		&cert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	cert.Kind = models.CertificateKind(kind)
	cert.Valid = valid == 1

	return cert, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
