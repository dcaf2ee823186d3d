package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clinsign/signserver/internal/errs"
	"github.com/clinsign/signserver/internal/models"
)

// SignatureRepository handles signature record data access.
// Signature bytes and the document hash are written once and never updated;
// only the validation cache fields change after creation.
type SignatureRepository struct {
	db *sql.DB
}

// NewSignatureRepository creates a new signature repository
func NewSignatureRepository(db *sql.DB) *SignatureRepository {
	return &SignatureRepository{db: db}
}

const signatureColumns = `
	id, document_id, document_type, signer_id, certificate_id, tenant_id,
	signature_bytes, document_hash, signed_at, client_ip, location,
	has_timestamp, timestamp_time, timestamp_token, valid, last_validated_at`

// Save creates a new signature record
func (r *SignatureRepository) Save(ctx context.Context, sig *models.SignatureRecord) error {
	var tsTime any
	if sig.HasTimestamp {
		tsTime = sig.TimestampTime
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signatures (
			id, document_id, document_type, signer_id, certificate_id,
			tenant_id, signature_bytes, document_hash, signed_at, client_ip,
			location, has_timestamp, timestamp_time, timestamp_token, valid,
			last_validated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sig.ID,
		sig.DocumentID,
		string(sig.DocumentType),
		sig.SignerID,
		sig.CertificateID,
		sig.TenantID,
		sig.SignatureBytes,
		sig.DocumentHash,
		sig.SignedAt,
		sig.ClientIP,
		sig.Location,
		boolToInt(sig.HasTimestamp),
		tsTime,
		sig.TimestampToken,
		boolToInt(sig.Valid),
		sig.LastValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create signature record: %w", err)
	}

	return nil
}

// GetByID retrieves a signature by id
func (r *SignatureRepository) GetByID(ctx context.Context, id string) (*models.SignatureRecord, error) {
	query := `SELECT ` + signatureColumns + `
		FROM signatures
		WHERE id = ?`

	sig, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.CodeNotFound, "signature %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signature: %w", err)
	}

	return sig, nil
}

// GetByDocument lists all signatures for a document, newest first
func (r *SignatureRepository) GetByDocument(ctx context.Context, documentID string, documentType models.DocumentType) ([]*models.SignatureRecord, error) {
	query := `SELECT ` + signatureColumns + `
		FROM signatures
		WHERE document_id = ? AND document_type = ?
		ORDER BY signed_at DESC`

	rows, err := r.db.QueryContext(ctx, query, documentID, string(documentType))
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	defer rows.Close()

	var sigs []*models.SignatureRecord
	for rows.Next() {
		sig, err := r.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		sigs = append(sigs, sig)
	}

	return sigs, rows.Err()
}

// UpdateValidation records a validation outcome. Nothing else on the record
// is updatable after creation.
func (r *SignatureRepository) UpdateValidation(ctx context.Context, id string, valid bool, validatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signatures SET valid = ?, last_validated_at = ? WHERE id = ?
	`, boolToInt(valid), validatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update validation state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return errs.Newf(errs.CodeNotFound, "signature %s not found", id)
	}

	return nil
}

func (r *SignatureRepository) scanOne(row scanner) (*models.SignatureRecord, error) {
	sig := &models.SignatureRecord{}
	var docType string
	var hasTS, valid int
	var tsTime, lastValidated sql.NullTime
	var clientIP, location sql.NullString

	err := row.Scan(
		&sig.ID,
		&sig.DocumentID,
		&docType,
		&sig.SignerID,
		&sig.CertificateID,
		&sig.TenantID,
		&sig.SignatureBytes,
		&sig.DocumentHash,
		&sig.SignedAt,
		&clientIP,
		&location,
		&hasTS,
		&tsTime,
		&sig.TimestampToken,
		&valid,
		&lastValidated,
	)
	if err != nil {
		return nil, err
	}

	sig.DocumentType = models.DocumentType(docType)
	sig.HasTimestamp = hasTS == 1
	sig.Valid = valid == 1
	if clientIP.Valid {
		sig.ClientIP = clientIP.String
	}
	if location.Valid {
		sig.Location = location.String
	}
	if tsTime.Valid {
		sig.TimestampTime = tsTime.Time
	}
	if lastValidated.Valid {
		t := lastValidated.Time
		sig.LastValidatedAt = &t
	}

	return sig, nil
}
