// Package cms implements the cryptographic primitives of the signature
// subsystem: document hashing, detached CMS/PKCS#7 signature creation and
// content-free structural verification (RFC 5652).
package cms

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// OID constants from RFC 5652 and PKCS#9
var (
	oidSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	oidRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA384WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
)

// ErrNoSignerCertificate is returned when a structurally valid signature does
// not embed the certificate matching its signer info.
var ErrNoSignerCertificate = errors.New("signer certificate not embedded in signature")

// SignatureInfo is the result of structurally verifying a detached signature
type SignatureInfo struct {
	// SignerCertificate is the embedded certificate matching the signer info
	SignerCertificate *x509.Certificate

	// Certificates is the full embedded chain
	Certificates []*x509.Certificate

	// SigningTime is the signing-time signed attribute, zero when absent
	SigningTime time.Time

	// MessageDigest is the message-digest signed attribute (the document hash)
	MessageDigest []byte
}

// signedData represents the CMS SignedData structure (RFC 5652)
type signedData struct {
	Version          int                   `asn1:"default:1"`
	DigestAlgorithms []algorithmIdentifier `asn1:"set"`
	ContentInfo      encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []signerInfo  `asn1:"set"`
}

type encapsulatedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

type signerInfo struct {
	Version            int           `asn1:"default:1"`
	SID                asn1.RawValue // SignerIdentifier (CHOICE)
	DigestAlgorithm    algorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm algorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type issuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber asn1.RawValue
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

// VerifyDetachedStructure decodes a detached CMS signature and verifies the
// signer's signature over the signed attributes using the embedded
// certificate. The check is deliberately content-free: the signed document is
// not retained by this subsystem, so the message-digest attribute cannot be
// compared against fresh content here. It is also signature-only: chain and
// trust-path validation happen at certificate import, not per validation
// call.
func VerifyDetachedStructure(sigBytes []byte) (*SignatureInfo, error) {
	if len(sigBytes) == 0 {
		return nil, fmt.Errorf("signature data is empty")
	}

	// Parse outer ContentInfo wrapper
	var contentInfo struct {
		ContentType asn1.ObjectIdentifier
		Content     asn1.RawValue `asn1:"explicit,tag:0"`
	}

	rest, err := asn1.Unmarshal(sigBytes, &contentInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal content info: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after content info")
	}

	if !contentInfo.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("not a SignedData structure (got OID %v)", contentInfo.ContentType)
	}

	var sd signedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &sd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed data: %w", err)
	}

	if len(sd.SignerInfos) == 0 {
		return nil, fmt.Errorf("no signer infos found")
	}
	si := sd.SignerInfos[0]

	// Extract embedded certificates
	var certs []*x509.Certificate
	if len(sd.Certificates.Bytes) > 0 {
		certs, err = x509.ParseCertificates(sd.Certificates.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded certificates: %w", err)
		}
	}

	signerCert, err := findSignerCertificate(si, certs)
	if err != nil {
		return nil, err
	}

	// Verify the signature over the signed attributes. A detached signature
	// without signed attributes has nothing verifiable here.
	if len(si.SignedAttrs.Bytes) == 0 {
		return nil, fmt.Errorf("signature has no signed attributes")
	}

	attrBytes, err := marshalSignedAttributes(si.SignedAttrs)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode signed attributes: %w", err)
	}

	sigAlg, err := signatureAlgorithm(si)
	if err != nil {
		return nil, err
	}

	if err := signerCert.CheckSignature(sigAlg, attrBytes, si.Signature); err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}

	info := &SignatureInfo{
		SignerCertificate: signerCert,
		Certificates:      certs,
	}

	if err := extractAttributes(si.SignedAttrs.Bytes, info); err != nil {
		return nil, err
	}

	return info, nil
}

// findSignerCertificate matches the signer info to an embedded certificate.
// The SignerIdentifier CHOICE is either issuerAndSerialNumber or a [0]
// subjectKeyIdentifier.
func findSignerCertificate(si signerInfo, certs []*x509.Certificate) (*x509.Certificate, error) {
	if si.SID.Class == asn1.ClassContextSpecific && si.SID.Tag == 0 {
		subjectKeyID := si.SID.Bytes
		for _, cert := range certs {
			if len(cert.SubjectKeyId) > 0 && bytes.Equal(cert.SubjectKeyId, subjectKeyID) {
				return cert, nil
			}
		}
		return nil, ErrNoSignerCertificate
	}

	var ias issuerAndSerialNumber
	if _, err := asn1.Unmarshal(si.SID.FullBytes, &ias); err != nil {
		return nil, fmt.Errorf("failed to parse signer identifier: %w", err)
	}

	var serial *big.Int
	if _, err := asn1.Unmarshal(ias.SerialNumber.FullBytes, &serial); err != nil {
		return nil, fmt.Errorf("failed to parse signer serial number: %w", err)
	}

	for _, cert := range certs {
		if cert.SerialNumber.Cmp(serial) == 0 && bytes.Equal(cert.RawIssuer, ias.Issuer.FullBytes) {
			return cert, nil
		}
	}

	// Fall back to serial-only match: some producers re-encode the issuer DN
	for _, cert := range certs {
		if cert.SerialNumber.Cmp(serial) == 0 {
			return cert, nil
		}
	}

	return nil, ErrNoSignerCertificate
}

// marshalSignedAttributes re-encodes the [0] IMPLICIT signed attributes as
// the explicit SET OF the signature was computed over (RFC 5652 §5.4).
func marshalSignedAttributes(raw asn1.RawValue) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      raw.Bytes,
	})
}

// signatureAlgorithm resolves the x509 signature algorithm from the signer
// info's digest and signature algorithm pair
func signatureAlgorithm(si signerInfo) (x509.SignatureAlgorithm, error) {
	sigOID := si.SignatureAlgorithm.Algorithm
	digestOID := si.DigestAlgorithm.Algorithm

	switch {
	case sigOID.Equal(oidSHA256WithRSA):
		return x509.SHA256WithRSA, nil
	case sigOID.Equal(oidSHA384WithRSA):
		return x509.SHA384WithRSA, nil
	case sigOID.Equal(oidSHA512WithRSA):
		return x509.SHA512WithRSA, nil
	case sigOID.Equal(oidRSAEncryption):
		// Digest algorithm carried separately
		switch {
		case digestOID.Equal(oidSHA256):
			return x509.SHA256WithRSA, nil
		case digestOID.Equal(oidSHA384):
			return x509.SHA384WithRSA, nil
		case digestOID.Equal(oidSHA512):
			return x509.SHA512WithRSA, nil
		}
	}

	return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported signature algorithm %v/%v", sigOID, digestOID)
}

// extractAttributes pulls message-digest and signing-time out of the signed
// attributes. SignedAttributes is [0] IMPLICIT, so individual Attribute
// SEQUENCEs are parsed from the raw content.
func extractAttributes(data []byte, info *SignatureInfo) error {
	for len(data) > 0 {
		var attr attribute
		rest, err := asn1.Unmarshal(data, &attr)
		if err != nil {
			return fmt.Errorf("failed to parse signed attribute: %w", err)
		}
		data = rest

		switch {
		case attr.Type.Equal(oidMessageDigest):
			var digest []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &digest); err != nil {
				return fmt.Errorf("failed to parse message digest attribute: %w", err)
			}
			info.MessageDigest = digest

		case attr.Type.Equal(oidSigningTime):
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &t); err != nil {
				return fmt.Errorf("failed to parse signing time attribute: %w", err)
			}
			info.SigningTime = t
		}
	}

	return nil
}
