package secrets

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	plaintext := []byte("pkcs12 bundle bytes")
	ciphertext, err := enc.EncryptBytes(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := enc.DecryptBytes(ciphertext)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestEncryptor_WrongKey(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 1

	enc1, err := NewEncryptor(key1)
	require.NoError(t, err)
	enc2, err := NewEncryptor(key2)
	require.NoError(t, err)

	ciphertext, err := enc1.EncryptBytes([]byte("secret"))
	require.NoError(t, err)

	_, err = enc2.DecryptBytes(ciphertext)
	assert.Error(t, err)
}

func TestEncryptor_BadInput(t *testing.T) {
	_, err := NewEncryptor([]byte("short"))
	assert.Error(t, err)

	enc, err := NewEncryptor(make([]byte, 32))
	require.NoError(t, err)

	_, err = enc.DecryptBytes([]byte("too short"))
	assert.Error(t, err)
}
