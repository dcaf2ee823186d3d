package token

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	pkcs11 "github.com/miekg/pkcs11"
	"github.com/rs/zerolog"

	"github.com/clinsign/signserver/pkg/certutil"
)

// PKCS#11 related errors
var (
	ErrModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrNoPrivateKey  = errors.New("no private key for certificate on token")
	ErrKeyNotOnToken = errors.New("private key no longer present on token")
)

// PKCS11Directory enumerates certificates on PKCS#11 tokens (smart cards,
// USB tokens). Each call opens and closes its own module session so that
// token removal is observed immediately.
type PKCS11Directory struct {
	modulePath string
	pin        string
	logger     zerolog.Logger
}

// NewPKCS11Directory creates a directory backed by the given PKCS#11 module
func NewPKCS11Directory(modulePath, pin string, logger zerolog.Logger) *PKCS11Directory {
	return &PKCS11Directory{
		modulePath: modulePath,
		pin:        pin,
		logger:     logger,
	}
}

// List returns all certificates with matching private keys on connected tokens
func (d *PKCS11Directory) List(ctx context.Context) ([]*Certificate, error) {
	mod := pkcs11.New(d.modulePath)
	if mod == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleLoad, d.modulePath)
	}
	defer mod.Destroy()

	if err := mod.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}
	defer mod.Finalize()

	slots, err := mod.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("failed to list token slots: %w", err)
	}

	var certs []*Certificate
	for _, slot := range slots {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slotCerts, err := d.listSlot(mod, slot)
		if err != nil {
			// A misbehaving token must not hide the others
			d.logger.Warn().Err(err).Uint("slot", slot).Msg("failed to read token slot")
			continue
		}
		certs = append(certs, slotCerts...)
	}

	return certs, nil
}

// FindByThumbprint locates a connected certificate by thumbprint
func (d *PKCS11Directory) FindByThumbprint(ctx context.Context, thumbprint string) (*Certificate, error) {
	certs, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, cert := range certs {
		if certutil.ThumbprintMatches(cert.Thumbprint, thumbprint) {
			return cert, nil
		}
	}

	return nil, nil
}

// listSlot enumerates certificate objects in one slot and pairs each with a
// private key handle found by CKA_ID
func (d *PKCS11Directory) listSlot(mod *pkcs11.Ctx, slot uint) ([]*Certificate, error) {
	session, err := mod.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer mod.CloseSession(session)

	if d.pin != "" {
		// Some tokens expose certificates without login; tolerate an
		// already-logged-in session
		if err := mod.Login(session, pkcs11.CKU_USER, d.pin); err != nil && !errors.Is(err, pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)) {
			return nil, fmt.Errorf("token login failed: %w", err)
		}
		defer mod.Logout(session)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	if err := mod.FindObjectsInit(session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}

	objs, _, err := mod.FindObjects(session, 32)
	if ferr := mod.FindObjectsFinal(session); err == nil {
		err = ferr
	}
	if err != nil {
		return nil, fmt.Errorf("FindObjects failed: %w", err)
	}

	var certs []*Certificate
	for _, obj := range objs {
		attrs, err := mod.GetAttributeValue(session, obj, []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
			pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
		})
		if err != nil || len(attrs) < 2 || len(attrs[0].Value) == 0 {
			continue
		}

		cert, err := x509.ParseCertificate(attrs[0].Value)
		if err != nil {
			continue
		}

		keyID := attrs[1].Value
		if !d.hasPrivateKey(mod, session, keyID) {
			continue
		}

		certs = append(certs, &Certificate{
			Thumbprint:  certutil.Thumbprint(cert),
			Certificate: cert,
			Signer: &pkcs11Signer{
				directory: d,
				slot:      slot,
				keyID:     keyID,
				publicKey: cert.PublicKey,
			},
		})
	}

	return certs, nil
}

// hasPrivateKey checks that a signing-capable private key with the given
// CKA_ID exists in the session
func (d *PKCS11Directory) hasPrivateKey(mod *pkcs11.Ctx, session pkcs11.SessionHandle, keyID []byte) bool {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if len(keyID) > 0 {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, keyID))
	}

	if err := mod.FindObjectsInit(session, template); err != nil {
		return false
	}
	defer mod.FindObjectsFinal(session)

	objs, _, err := mod.FindObjects(session, 1)
	return err == nil && len(objs) > 0
}

// pkcs11Signer signs on-device. Every Sign call opens a fresh session so a
// removed token fails immediately instead of reusing a stale handle.
type pkcs11Signer struct {
	directory *PKCS11Directory
	slot      uint
	keyID     []byte
	publicKey crypto.PublicKey
}

// Public returns the public key matching the on-token private key
func (s *pkcs11Signer) Public() crypto.PublicKey {
	return s.publicKey
}

// Sign performs a PKCS#1 v1.5 signature over digest on the token.
// The digest is wrapped in a DigestInfo structure before CKM_RSA_PKCS, per
// RFC 8017 §9.2.
func (s *pkcs11Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := s.publicKey.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("unsupported key type on token")
	}

	prefix, ok := digestInfoPrefixes[opts.HashFunc()]
	if !ok {
		return nil, fmt.Errorf("unsupported digest algorithm %v", opts.HashFunc())
	}

	mod := pkcs11.New(s.directory.modulePath)
	if mod == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleLoad, s.directory.modulePath)
	}
	defer mod.Destroy()

	if err := mod.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}
	defer mod.Finalize()

	session, err := mod.OpenSession(s.slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyNotOnToken, err)
	}
	defer mod.CloseSession(session)

	if s.directory.pin != "" {
		if err := mod.Login(session, pkcs11.CKU_USER, s.directory.pin); err != nil && !errors.Is(err, pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN)) {
			return nil, fmt.Errorf("token login failed: %w", err)
		}
		defer mod.Logout(session)
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if len(s.keyID) > 0 {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, s.keyID))
	}

	if err := mod.FindObjectsInit(session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	objs, _, err := mod.FindObjects(session, 1)
	if ferr := mod.FindObjectsFinal(session); err == nil {
		err = ferr
	}
	if err != nil {
		return nil, fmt.Errorf("FindObjects failed: %w", err)
	}
	if len(objs) == 0 {
		return nil, ErrKeyNotOnToken
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	if err := mod.SignInit(session, mech, objs[0]); err != nil {
		return nil, fmt.Errorf("SignInit failed: %w", err)
	}

	sig, err := mod.Sign(session, append(append([]byte{}, prefix...), digest...))
	if err != nil {
		return nil, fmt.Errorf("token signing failed: %w", err)
	}

	return sig, nil
}

// digestInfoPrefixes are the DER-encoded DigestInfo headers prepended to raw
// digests for CKM_RSA_PKCS (RFC 8017 §9.2)
var digestInfoPrefixes = map[crypto.Hash][]byte{
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}
