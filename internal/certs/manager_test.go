package certs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/clinsign/signserver/internal/errs"
	"github.com/clinsign/signserver/internal/models"
	"github.com/clinsign/signserver/internal/secrets"
	"github.com/clinsign/signserver/internal/token"
	"github.com/clinsign/signserver/pkg/certutil"
)

type fakeStore struct {
	records map[string]*models.CertificateRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.CertificateRecord)}
}

func (s *fakeStore) GetActive(_ context.Context, signerID string) (*models.CertificateRecord, error) {
	for _, rec := range s.records {
		if rec.SignerID == signerID && rec.Valid {
			return rec, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.CertificateRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, errs.Newf(errs.CodeNotFound, "certificate %s not found", id)
	}
	return rec, nil
}

func (s *fakeStore) ReplaceActive(_ context.Context, cert *models.CertificateRecord) error {
	for _, rec := range s.records {
		if rec.SignerID == cert.SignerID && rec.TenantID == cert.TenantID && rec.Valid {
			rec.Valid = false
		}
	}
	s.records[cert.ID] = cert
	return nil
}

func (s *fakeStore) SetValid(_ context.Context, id string, valid bool) error {
	rec, ok := s.records[id]
	if !ok {
		return errs.Newf(errs.CodeNotFound, "certificate %s not found", id)
	}
	rec.Valid = valid
	return nil
}

func (s *fakeStore) activeFor(signerID string) []*models.CertificateRecord {
	var active []*models.CertificateRecord
	for _, rec := range s.records {
		if rec.SignerID == signerID && rec.Valid {
			active = append(active, rec)
		}
	}
	return active
}

type fakeDirectory struct {
	connected []*token.Certificate
}

func (d *fakeDirectory) List(_ context.Context) ([]*token.Certificate, error) {
	return d.connected, nil
}

func (d *fakeDirectory) FindByThumbprint(_ context.Context, thumbprint string) (*token.Certificate, error) {
	for _, cert := range d.connected {
		if certutil.ThumbprintMatches(cert.Thumbprint, thumbprint) {
			return cert, nil
		}
	}
	return nil, nil
}

type fakeAudit struct {
	entries []*models.AuditLog
}

func (a *fakeAudit) Record(_ context.Context, entry *models.AuditLog) error {
	a.entries = append(a.entries, entry)
	return nil
}

// newIssuedCertificate creates a certificate signed by a fresh CA named issuerCN
func newIssuedCertificate(t *testing.T, issuerCN, subjectCN string, notAfter time.Time) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: issuerCN},
		NotBefore:             time.Now().Add(-2 * time.Hour),
		NotAfter:              notAfter.Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: subjectCN},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return leafCert, leafKey
}

// newBundle packages a certificate and key as PKCS#12
func newBundle(t *testing.T, cert *x509.Certificate, key *rsa.PrivateKey, password string) []byte {
	t.Helper()

	bundle, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return bundle
}

func newTestManager(t *testing.T, store *fakeStore, directory *fakeDirectory, audit *fakeAudit) *Manager {
	t.Helper()

	key := make([]byte, 32)
	encryptor, err := secrets.NewEncryptor(key)
	require.NoError(t, err)

	trust := NewTrustPolicy([]string{"AC Exemplo"})
	return NewManager(store, encryptor, directory, trust, audit, zerolog.Nop())
}

func TestImportSoftwareCertificate(t *testing.T) {
	store := newFakeStore()
	audit := &fakeAudit{}
	manager := newTestManager(t, store, &fakeDirectory{}, audit)

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	rec, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	require.NoError(t, err)

	assert.Equal(t, models.KindSoftwareKey, rec.Kind)
	assert.True(t, rec.Valid)
	assert.Contains(t, rec.SubjectName, "Dra Ana Souza")
	assert.Contains(t, rec.IssuerName, "AC Exemplo RFB")
	assert.NotEmpty(t, rec.EncryptedBundle)
	assert.NotEqual(t, bundle, rec.EncryptedBundle)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.ActionCertImport, audit.entries[0].Action)
	assert.True(t, audit.entries[0].Success)
}

func TestImportSoftwareCertificate_ReplacesActive(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	first, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	require.NoError(t, err)

	second, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	require.NoError(t, err)

	active := store.activeFor("signer-1")
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.False(t, store.records[first.ID].Valid)
}

func TestImportSoftwareCertificate_WrongPassword(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	_, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "errada")
	assert.True(t, errs.Is(err, errs.CodeInvalidCredential))
}

func TestImportSoftwareCertificate_UntrustedIssuer(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Desconhecida", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	_, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	assert.True(t, errs.Is(err, errs.CodeUntrustedIssuer))
}

func TestImportSoftwareCertificate_Expired(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(-time.Minute))
	bundle := newBundle(t, cert, key, "segredo")

	_, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	assert.True(t, errs.Is(err, errs.CodeCertificateExpired))
}

func TestImportSoftwareCertificate_MissingArguments(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeDirectory{}, &fakeAudit{})

	_, err := manager.ImportSoftwareCertificate(context.Background(), "", "clinic-1", []byte("x"), "p")
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", nil, "p")
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

func TestRegisterHardwareCertificate(t *testing.T) {
	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dr Bruno Lima", time.Now().Add(24*time.Hour))
	directory := &fakeDirectory{connected: []*token.Certificate{{
		Thumbprint:  certutil.Thumbprint(cert),
		Certificate: cert,
		Signer:      key,
	}}}

	store := newFakeStore()
	manager := newTestManager(t, store, directory, &fakeAudit{})

	rec, err := manager.RegisterHardwareCertificate(context.Background(), "signer-2", "clinic-1", certutil.Thumbprint(cert))
	require.NoError(t, err)

	assert.Equal(t, models.KindHardwareToken, rec.Kind)
	assert.Empty(t, rec.EncryptedBundle)
	assert.Equal(t, certutil.Thumbprint(cert), rec.Thumbprint)
}

func TestRegisterHardwareCertificate_TokenNotConnected(t *testing.T) {
	manager := newTestManager(t, newFakeStore(), &fakeDirectory{}, &fakeAudit{})

	_, err := manager.RegisterHardwareCertificate(context.Background(), "signer-2", "clinic-1", "AABBCC")
	assert.True(t, errs.Is(err, errs.CodeTokenNotConnected))
}

func TestLoadSigningCredential_Software(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	rec, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	require.NoError(t, err)

	cred, err := manager.LoadSigningCredential(context.Background(), rec, "segredo")
	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber, cred.Certificate.SerialNumber)
	assert.NotNil(t, cred.Signer)

	_, err = manager.LoadSigningCredential(context.Background(), rec, "errada")
	assert.True(t, errs.Is(err, errs.CodeInvalidCredential))
}

func TestLoadSigningCredential_HardwareDisconnected(t *testing.T) {
	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dr Bruno Lima", time.Now().Add(24*time.Hour))
	directory := &fakeDirectory{connected: []*token.Certificate{{
		Thumbprint:  certutil.Thumbprint(cert),
		Certificate: cert,
		Signer:      key,
	}}}

	store := newFakeStore()
	manager := newTestManager(t, store, directory, &fakeAudit{})

	rec, err := manager.RegisterHardwareCertificate(context.Background(), "signer-2", "clinic-1", certutil.Thumbprint(cert))
	require.NoError(t, err)

	// Connected: credential resolves with an on-token signer
	cred, err := manager.LoadSigningCredential(context.Background(), rec, "")
	require.NoError(t, err)
	assert.Implements(t, (*crypto.Signer)(nil), cred.Signer)

	// Token pulled out between registration and signing
	directory.connected = nil
	_, err = manager.LoadSigningCredential(context.Background(), rec, "")
	assert.True(t, errs.Is(err, errs.CodeTokenNotConnected))
}

func TestInvalidateCertificate(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store, &fakeDirectory{}, &fakeAudit{})

	cert, key := newIssuedCertificate(t, "AC Exemplo RFB", "Dra Ana Souza", time.Now().Add(24*time.Hour))
	bundle := newBundle(t, cert, key, "segredo")

	rec, err := manager.ImportSoftwareCertificate(context.Background(), "signer-1", "clinic-1", bundle, "segredo")
	require.NoError(t, err)

	t.Run("not owner", func(t *testing.T) {
		err := manager.InvalidateCertificate(context.Background(), rec.ID, "signer-other")
		assert.True(t, errs.Is(err, errs.CodeNotOwner))
		assert.True(t, store.records[rec.ID].Valid)
	})

	t.Run("owner invalidates", func(t *testing.T) {
		require.NoError(t, manager.InvalidateCertificate(context.Background(), rec.ID, "signer-1"))
		assert.False(t, store.records[rec.ID].Valid)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, manager.InvalidateCertificate(context.Background(), rec.ID, "signer-1"))
	})

	t.Run("unknown certificate", func(t *testing.T) {
		err := manager.InvalidateCertificate(context.Background(), "missing", "signer-1")
		assert.True(t, errs.Is(err, errs.CodeNotFound))
	})
}
