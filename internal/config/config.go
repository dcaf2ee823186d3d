package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Trust      TrustConfig      `yaml:"trust"`
	TSA        TSAConfig        `yaml:"tsa"`
	PKCS11     PKCS11Config     `yaml:"pkcs11"`
	Signing    SigningConfig    `yaml:"signing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EncryptionConfig contains the key-material encryption configuration.
// Key is the base64-encoded 32-byte symmetric key used to encrypt stored
// PKCS#12 bundles; key management is external to this service.
type EncryptionConfig struct {
	Key string `yaml:"key"`
}

// TrustConfig contains the issuer trust allow-list
type TrustConfig struct {
	// TrustedIssuers lists substrings of accepted issuer distinguished names,
	// typically the ICP-Brasil root and intermediate AC names.
	TrustedIssuers []string `yaml:"trusted_issuers"`
}

// TSAConfig contains Time-Stamp Authority configuration
type TSAConfig struct {
	// Endpoints are tried in order; the first successful response wins.
	Endpoints []string `yaml:"endpoints"`
	Timeout   string   `yaml:"timeout"`
}

// PKCS11Config contains hardware token access configuration
type PKCS11Config struct {
	ModulePath string `yaml:"module_path"`
	PIN        string `yaml:"pin"`
}

// SigningConfig contains signing defaults
type SigningConfig struct {
	// Location tags every signature record with the signing system identity.
	Location string `yaml:"location"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Encryption validation
	key, err := base64.StdEncoding.DecodeString(c.Encryption.Key)
	if err != nil {
		return fmt.Errorf("encryption.key must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("encryption.key must decode to 32 bytes, got %d", len(key))
	}

	// Trust validation
	if len(c.Trust.TrustedIssuers) == 0 {
		return fmt.Errorf("trust.trusted_issuers requires at least one entry")
	}

	// TSA validation: endpoints are optional (signing degrades to
	// untimestamped), but a configured timeout must parse
	if c.TSA.Timeout != "" {
		if _, err := time.ParseDuration(c.TSA.Timeout); err != nil {
			return fmt.Errorf("tsa.timeout is invalid: %w", err)
		}
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// EncryptionKey returns the decoded 32-byte encryption key
func (c *Config) EncryptionKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.Encryption.Key)
	return key
}

// TSATimeout returns the per-endpoint TSA timeout, defaulting to 30s
func (c *Config) TSATimeout() time.Duration {
	if c.TSA.Timeout == "" {
		return 30 * time.Second
	}
	d, _ := time.ParseDuration(c.TSA.Timeout)
	return d
}
