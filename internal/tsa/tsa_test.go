package tsa

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsign/signserver/internal/cms"
)

// newTSACredentials generates a self-signed timestamping certificate
func newTSACredentials(t *testing.T) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(99),
		Subject:               pkix.Name{CommonName: "Autoridade de Carimbo do Tempo Teste"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, key
}

// newTSAServer runs an RFC 3161 responder that grants every request
func newTSAServer(t *testing.T, cert *x509.Certificate, key *rsa.PrivateKey, asserted time.Time) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		req, err := timestamp.ParseRequest(body)
		require.NoError(t, err)

		ts := timestamp.Timestamp{
			HashAlgorithm:     req.HashAlgorithm,
			HashedMessage:     req.HashedMessage,
			Time:              asserted,
			Nonce:             req.Nonce,
			Policy:            asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 13177, 10, 1, 3, 10},
			SerialNumber:      big.NewInt(time.Now().UnixNano()),
			AddTSACertificate: true,
		}

		resp, err := ts.CreateResponse(cert, key)
		require.NoError(t, err)

		w.Header().Set("Content-Type", contentTypeReply)
		w.Write(resp)
	}))
	t.Cleanup(server.Close)

	return server
}

func TestRequestTimestamp_Success(t *testing.T) {
	cert, key := newTSACredentials(t)
	asserted := time.Now().Truncate(time.Second)
	server := newTSAServer(t, cert, key, asserted)

	client := NewClient([]string{server.URL}, 5*time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("clinical note"))

	token := client.RequestTimestamp(context.Background(), hash)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Bytes)
	assert.WithinDuration(t, asserted, token.Time, time.Second)
}

func TestRequestTimestamp_Failover(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)

	cert, key := newTSACredentials(t)
	working := newTSAServer(t, cert, key, time.Now())

	client := NewClient([]string{broken.URL, working.URL}, 5*time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("exam request"))

	token := client.RequestTimestamp(context.Background(), hash)
	require.NotNil(t, token)
}

func TestRequestTimestamp_AllEndpointsFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(broken.Close)

	client := NewClient([]string{broken.URL, "http://127.0.0.1:1/tsa"}, time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("consent form"))

	assert.Nil(t, client.RequestTimestamp(context.Background(), hash))
}

func TestRequestTimestamp_NoEndpoints(t *testing.T) {
	client := NewClient(nil, time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("medical report"))

	assert.Nil(t, client.RequestTimestamp(context.Background(), hash))
}

func TestRequestTimestamp_WrongContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not a timestamp</html>"))
	}))
	t.Cleanup(server.Close)

	client := NewClient([]string{server.URL}, time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("prescription"))

	assert.Nil(t, client.RequestTimestamp(context.Background(), hash))
}

func TestRequestTimestamp_InvalidHash(t *testing.T) {
	client := NewClient([]string{"http://127.0.0.1:1/tsa"}, time.Second, zerolog.Nop())

	assert.Nil(t, client.RequestTimestamp(context.Background(), "not a hash"))
}

func TestValidateToken(t *testing.T) {
	cert, key := newTSACredentials(t)
	server := newTSAServer(t, cert, key, time.Now())

	client := NewClient([]string{server.URL}, 5*time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("clinical note"))

	token := client.RequestTimestamp(context.Background(), hash)
	require.NotNil(t, token)

	t.Run("valid token", func(t *testing.T) {
		assert.True(t, client.ValidateToken(token.Bytes))
	})

	t.Run("empty token", func(t *testing.T) {
		assert.False(t, client.ValidateToken(nil))
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.False(t, client.ValidateToken([]byte("garbage")))
	})

	t.Run("tampered token", func(t *testing.T) {
		tampered := append([]byte{}, token.Bytes...)
		tampered[len(tampered)-5] ^= 0xff
		assert.False(t, client.ValidateToken(tampered))
	})
}

func TestTokenTime(t *testing.T) {
	cert, key := newTSACredentials(t)
	asserted := time.Now().Truncate(time.Second)
	server := newTSAServer(t, cert, key, asserted)

	client := NewClient([]string{server.URL}, 5*time.Second, zerolog.Nop())
	hash := cms.HashDocument([]byte("clinical note"))

	token := client.RequestTimestamp(context.Background(), hash)
	require.NotNil(t, token)

	assert.WithinDuration(t, asserted, TokenTime(token.Bytes), time.Second)
	assert.True(t, TokenTime([]byte("garbage")).IsZero())
}
