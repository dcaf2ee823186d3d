package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clinsign/signserver/internal/models"
)

// AuditRepository handles audit log data access
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record creates a new audit log entry
func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			action, signer_id, tenant_id, document_id, certificate_id,
			client_ip, success, error_msg, details
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Action,
		entry.SignerID,
		entry.TenantID,
		entry.DocumentID,
		entry.CertificateID,
		entry.ClientIP,
		boolToInt(entry.Success),
		entry.ErrorMsg,
		entry.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	entry.Timestamp = time.Now()

	return nil
}

// List lists audit logs with optional filters
func (r *AuditRepository) List(ctx context.Context, signerID string, action string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, timestamp, action, signer_id, tenant_id, document_id,
		       certificate_id, client_ip, success, error_msg, details
		FROM audit_logs
		WHERE 1=1
	`
	args := []any{}

	if signerID != "" {
		query += " AND signer_id = ?"
		args = append(args, signerID)
	}

	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}

	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog

	for rows.Next() {
		entry := &models.AuditLog{}
		var success int
		var signer, tenant, document, certificate, clientIP, errorMsg, details sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Action,
			&signer,
			&tenant,
			&document,
			&certificate,
			&clientIP,
			&success,
			&errorMsg,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		entry.Success = success == 1
		entry.SignerID = signer.String
		entry.TenantID = tenant.String
		entry.DocumentID = document.String
		entry.CertificateID = certificate.String
		entry.ClientIP = clientIP.String
		entry.ErrorMsg = errorMsg.String
		entry.Details = details.String

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
