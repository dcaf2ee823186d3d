package certutil

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"strings"
)

// Thumbprint calculates the SHA-1 thumbprint of a certificate, uppercase hex.
// This matches the thumbprint format used by hardware-token tooling.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ThumbprintMatches compares two thumbprints ignoring case
func ThumbprintMatches(a, b string) bool {
	return strings.EqualFold(a, b)
}
