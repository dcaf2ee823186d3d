package cms

import (
	"fmt"

	"github.com/digitorus/pkcs7"
)

// SignDetached produces a detached CMS/PKCS#7 signature over data using
// SHA-256. The signed attributes carry content-type, message-digest and
// signing-time; the full certificate chain is embedded so the signature can
// be re-validated without external lookups.
func SignDetached(cred *Credential, data []byte) ([]byte, error) {
	signedData, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signed data: %w", err)
	}

	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	signedData.SetEncryptionAlgorithm(pkcs7.OIDEncryptionAlgorithmRSA)

	err = signedData.AddSignerChain(cred.Certificate, cred.Signer, cred.Chain, pkcs7.SignerInfoConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}

	// Detach the content: the document travels separately from the signature
	signedData.Detach()

	sig, err := signedData.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to finish signature: %w", err)
	}

	return sig, nil
}
