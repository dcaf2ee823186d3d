package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeTokenNotConnected, "token removed")
	assert.Equal(t, CodeTokenNotConnected, CodeOf(err))

	// Codes survive wrapping with fmt.Errorf
	wrapped := fmt.Errorf("signing failed: %w", err)
	assert.Equal(t, CodeTokenNotConnected, CodeOf(wrapped))

	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
}

func TestWrap(t *testing.T) {
	cause := errors.New("pkcs12: decryption password incorrect")
	err := Wrap(CodeInvalidCredential, "failed to parse key bundle", cause)

	assert.Equal(t, "failed to parse key bundle: pkcs12: decryption password incorrect", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, CodeInvalidCredential))
	assert.False(t, Is(err, CodeNotFound))
}

func TestNewf(t *testing.T) {
	err := Newf(CodeNotFound, "certificate %s not found", "abc")
	assert.Equal(t, "certificate abc not found", err.Error())
	assert.Equal(t, CodeNotFound, CodeOf(err))
}
