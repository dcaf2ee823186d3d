package certs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustPolicy(t *testing.T) {
	policy := NewTrustPolicy([]string{"AC Exemplo RFB", "AC Outro"})

	assert.True(t, policy.IsTrustedIssuer("CN=AC Exemplo RFB v5,O=ICP-Brasil,C=BR"))
	assert.True(t, policy.IsTrustedIssuer("CN=ac exemplo rfb,C=BR"))
	assert.False(t, policy.IsTrustedIssuer("CN=AC Desconhecida,C=BR"))
	assert.False(t, policy.IsTrustedIssuer(""))
}

func TestTrustPolicy_EmptyEntriesIgnored(t *testing.T) {
	policy := NewTrustPolicy([]string{""})
	assert.False(t, policy.IsTrustedIssuer("CN=Qualquer AC"))
}
