package certs

import "strings"

// TrustPolicy validates certificate issuers against the configured
// allow-list of trusted root and intermediate authority names
// (ICP-Brasil-style hierarchy).
type TrustPolicy struct {
	trustedIssuers []string
}

// NewTrustPolicy creates a trust policy from configured issuer names
func NewTrustPolicy(trustedIssuers []string) *TrustPolicy {
	return &TrustPolicy{trustedIssuers: trustedIssuers}
}

// IsTrustedIssuer reports whether the issuer distinguished name matches one
// of the allow-listed authority names. Matching is by case-insensitive
// substring: entries name the authority ("AC Exemplo RFB"), not the full DN.
func (p *TrustPolicy) IsTrustedIssuer(issuerDN string) bool {
	issuer := strings.ToLower(issuerDN)
	for _, trusted := range p.trustedIssuers {
		if trusted == "" {
			continue
		}
		if strings.Contains(issuer, strings.ToLower(trusted)) {
			return true
		}
	}
	return false
}
