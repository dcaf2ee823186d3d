package cms

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashDocument computes the hex-encoded SHA-256 hash of a document
func HashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecodeHash decodes a hex-encoded SHA-256 hash into its 32 raw bytes
func DecodeHash(hashHex string) ([]byte, error) {
	raw, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hash: %w", err)
	}
	if len(raw) != sha256.Size {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", sha256.Size, len(raw))
	}
	return raw, nil
}
