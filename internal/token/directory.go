// Package token provides access to certificates held on connected hardware
// cryptographic tokens (A3-style credentials). Private keys never leave the
// token; signing is performed on-device.
package token

import (
	"context"
	"crypto"
	"crypto/x509"
)

// Certificate is a certificate with a usable private key on a currently
// connected token
type Certificate struct {
	// Thumbprint is the SHA-1 thumbprint of the certificate, uppercase hex
	Thumbprint string

	// Certificate is the parsed X.509 certificate
	Certificate *x509.Certificate

	// Signer performs signatures on-device
	Signer crypto.Signer
}

// Directory enumerates certificates on connected hardware tokens.
// Presence is checked live on every call: tokens can be physically removed
// between registration and use, so results are never cached.
type Directory interface {
	// List returns all certificates with private keys on connected tokens
	List(ctx context.Context) ([]*Certificate, error)

	// FindByThumbprint locates a connected certificate by thumbprint.
	// Returns nil (no error) when no connected token holds it.
	FindByThumbprint(ctx context.Context, thumbprint string) (*Certificate, error)
}
