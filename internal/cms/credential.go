package cms

import (
	"crypto"
	"crypto/x509"
)

// Credential is a loaded signing credential: the signer certificate, its
// chain, and the means to produce signatures with the matching private key.
// For software keys the signer is the decrypted in-memory key; for hardware
// tokens it signs on-device and the key never crosses into this process.
type Credential struct {
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
	Signer      crypto.Signer
}
