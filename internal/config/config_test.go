package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
database:
  path: /var/lib/signserver/signserver.db
encryption:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
trust:
  trusted_issuers:
    - AC Exemplo RFB
tsa:
  endpoints:
    - https://tsa.example.com/tsr
  timeout: 10s
pkcs11:
  module_path: /usr/lib/libeToken.so
signing:
  location: Sistema Clinico - SP
logging:
  level: info
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/signserver/signserver.db", cfg.Database.Path)
	assert.Equal(t, []string{"AC Exemplo RFB"}, cfg.Trust.TrustedIssuers)
	assert.Equal(t, 10*time.Second, cfg.TSATimeout())
	assert.Len(t, cfg.EncryptionKey(), 32)
}

func TestLoad_InvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing database path", `
encryption:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
trust:
  trusted_issuers: ["AC"]
logging: {level: info, format: json}
`},
		{"bad encryption key", `
database: {path: /tmp/db}
encryption: {key: dG9vLXNob3J0}
trust:
  trusted_issuers: ["AC"]
logging: {level: info, format: json}
`},
		{"no trusted issuers", `
database: {path: /tmp/db}
encryption:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
logging: {level: info, format: json}
`},
		{"bad tsa timeout", `
database: {path: /tmp/db}
encryption:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
trust:
  trusted_issuers: ["AC"]
tsa: {timeout: soon}
logging: {level: info, format: json}
`},
		{"bad log level", `
database: {path: /tmp/db}
encryption:
  key: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
trust:
  trusted_issuers: ["AC"]
logging: {level: loud, format: json}
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	t.Setenv("SIGNSERVER_DB_PATH", "/tmp/override.db")
	t.Setenv("SIGNSERVER_PKCS11_PIN", "1234")

	cfg, err := LoadWithEnv(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "1234", cfg.PKCS11.PIN)
	// Untouched values survive the overrides
	assert.Equal(t, "/usr/lib/libeToken.so", cfg.PKCS11.ModulePath)
}

func TestTSATimeout_Default(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 30*time.Second, cfg.TSATimeout())
}
