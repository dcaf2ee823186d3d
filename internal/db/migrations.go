package db

import (
	"context"
	"database/sql"
	"fmt"
)

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Apply migrations if needed
	// Currently only version 1 exists
	if currentVersion < 1 {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx(context.Background())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Schema version table
	if err := execSQL(tx, schemaVersionTable); err != nil {
		return err
	}

	// Certificates table
	if err := execSQL(tx, certificatesTable); err != nil {
		return err
	}
	if err := execSQL(tx, certificatesIndexes); err != nil {
		return err
	}

	// Signatures table
	if err := execSQL(tx, signaturesTable); err != nil {
		return err
	}
	if err := execSQL(tx, signaturesIndexes); err != nil {
		return err
	}

	// Audit logs table
	if err := execSQL(tx, auditLogsTable); err != nil {
		return err
	}
	if err := execSQL(tx, auditLogsIndexes); err != nil {
		return err
	}

	// Insert initial schema version
	if err := execSQL(tx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	certificatesTable = `
CREATE TABLE certificates (
    id                    TEXT PRIMARY KEY,
    signer_id             TEXT NOT NULL,
    tenant_id             TEXT NOT NULL,
    kind                  TEXT NOT NULL,
    serial_number         TEXT NOT NULL,
    subject_name          TEXT NOT NULL,
    issuer_name           TEXT NOT NULL,
    thumbprint            TEXT NOT NULL,
    issued_at             DATETIME NOT NULL,
    expires_at            DATETIME NOT NULL,
    valid                 INTEGER NOT NULL DEFAULT 1,
    signature_count       INTEGER NOT NULL DEFAULT 0,
    encrypted_bundle      BLOB,
    encrypted_private_key BLOB,
    created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	certificatesIndexes = `
CREATE INDEX idx_certs_signer ON certificates(signer_id, tenant_id);
CREATE INDEX idx_certs_valid ON certificates(signer_id, valid);
CREATE INDEX idx_certs_thumbprint ON certificates(thumbprint);
CREATE INDEX idx_certs_expires_at ON certificates(expires_at)`

	signaturesTable = `
CREATE TABLE signatures (
    id                TEXT PRIMARY KEY,
    document_id       TEXT NOT NULL,
    document_type     TEXT NOT NULL,
    signer_id         TEXT NOT NULL,
    certificate_id    TEXT NOT NULL,
    tenant_id         TEXT NOT NULL,
    signature_bytes   BLOB NOT NULL,
    document_hash     TEXT NOT NULL,
    signed_at         DATETIME NOT NULL,
    client_ip         TEXT,
    location          TEXT,
    has_timestamp     INTEGER NOT NULL DEFAULT 0,
    timestamp_time    DATETIME,
    timestamp_token   BLOB,
    valid             INTEGER NOT NULL DEFAULT 1,
    last_validated_at DATETIME,

    FOREIGN KEY (certificate_id) REFERENCES certificates(id)
)`

	signaturesIndexes = `
CREATE INDEX idx_sigs_document ON signatures(document_id, document_type);
CREATE INDEX idx_sigs_signer ON signatures(signer_id);
CREATE INDEX idx_sigs_certificate ON signatures(certificate_id);
CREATE INDEX idx_sigs_signed_at ON signatures(signed_at)`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    action         TEXT NOT NULL,
    signer_id      TEXT,
    tenant_id      TEXT,
    document_id    TEXT,
    certificate_id TEXT,
    client_ip      TEXT,
    success        INTEGER NOT NULL,
    error_msg      TEXT,
    details        TEXT
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_signer ON audit_logs(signer_id);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)
