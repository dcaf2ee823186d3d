package tsa

import (
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
)

// ValidateToken re-validates a stored timestamp token. It fails closed:
// empty input, undecodable structures, a bad internal signature or an
// expired token-signing certificate all report false.
func (c *Client) ValidateToken(tokenBytes []byte) bool {
	if len(tokenBytes) == 0 {
		return false
	}

	// Structural check: the token must decode as an RFC 3161 TSTInfo
	if _, err := timestamp.Parse(tokenBytes); err != nil {
		c.logger.Debug().Err(err).Msg("timestamp token failed to parse")
		return false
	}

	// Cryptographic check: verify the token's internal CMS signature
	p7, err := pkcs7.Parse(tokenBytes)
	if err != nil {
		c.logger.Debug().Err(err).Msg("timestamp token failed CMS parse")
		return false
	}

	if err := p7.Verify(); err != nil {
		c.logger.Debug().Err(err).Msg("timestamp token signature invalid")
		return false
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return false
	}

	if time.Now().After(signer.NotAfter) {
		c.logger.Debug().Str("subject", signer.Subject.CommonName).Msg("timestamp signing certificate expired")
		return false
	}

	return true
}

// TokenTime extracts the TSA-asserted time from a token, zero on failure
func TokenTime(tokenBytes []byte) time.Time {
	ts, err := timestamp.Parse(tokenBytes)
	if err != nil {
		return time.Time{}
	}
	return ts.Time
}
