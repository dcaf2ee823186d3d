// Package tsa obtains and validates RFC 3161 timestamp tokens from
// configured Time-Stamp Authority endpoints.
package tsa

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/digitorus/timestamp"
	"github.com/rs/zerolog"

	"github.com/clinsign/signserver/internal/cms"
)

const (
	contentTypeRequest = "application/timestamp-query"
	contentTypeReply   = "application/timestamp-reply"

	// DefaultTimeout bounds each TSA attempt
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps TSA response bodies
	maxResponseSize = 1 << 20
)

// Token is a timestamp token obtained from a TSA
type Token struct {
	// Bytes is the DER-encoded timestamp token (ContentInfo/SignedData)
	Bytes []byte

	// Time is the genTime asserted by the TSA
	Time time.Time
}

// Client requests timestamp tokens from an ordered list of TSA endpoints.
// Endpoints are tried sequentially; the first granted response wins.
type Client struct {
	endpoints []string
	timeout   time.Duration
	client    *http.Client
	logger    zerolog.Logger
}

// NewClient creates a timestamp client. A zero timeout falls back to the
// 30-second default.
func NewClient(endpoints []string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		client:    &http.Client{},
		logger:    logger,
	}
}

// RequestTimestamp obtains a timestamp token for a hex-encoded SHA-256 hash.
// Every endpoint failure moves to the next endpoint; nil is returned when the
// list is exhausted or the context is cancelled. Absence is not an error:
// callers degrade to an untimestamped signature.
func (c *Client) RequestTimestamp(ctx context.Context, hashHex string) *Token {
	hashed, err := cms.DecodeHash(hashHex)
	if err != nil {
		c.logger.Error().Err(err).Msg("invalid hash for timestamp request")
		return nil
	}

	nonce, err := generateNonce()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to generate timestamp nonce")
		return nil
	}

	req := timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: hashed,
		Certificates:  true,
		Nonce:         nonce,
	}

	reqBytes, err := req.Marshal()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal timestamp request")
		return nil
	}

	for _, endpoint := range c.endpoints {
		if ctx.Err() != nil {
			return nil
		}

		token, err := c.requestOne(ctx, endpoint, reqBytes, hashed, nonce)
		if err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("timestamp request failed, trying next endpoint")
			continue
		}

		c.logger.Debug().Str("endpoint", endpoint).Time("tsa_time", token.Time).Msg("timestamp token obtained")
		return token
	}

	return nil
}

// requestOne sends the timestamp request to a single endpoint
func (c *Client) requestOne(ctx context.Context, endpoint string, reqBytes, hashed []byte, nonce *big.Int) (*Token, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeRequest)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TSA returned HTTP %d", httpResp.StatusCode)
	}

	if ct := httpResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, contentTypeReply) {
		return nil, fmt.Errorf("TSA returned content type %q", ct)
	}

	respBytes, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	ts, err := timestamp.ParseResponse(respBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp response: %w", err)
	}

	if !bytes.Equal(ts.HashedMessage, hashed) {
		return nil, fmt.Errorf("timestamp message imprint mismatch")
	}

	if ts.Nonce != nil && ts.Nonce.Cmp(nonce) != 0 {
		return nil, fmt.Errorf("timestamp nonce mismatch")
	}

	return &Token{Bytes: ts.RawToken, Time: ts.Time}, nil
}

// generateNonce produces a 160-bit random nonce for replay protection
func generateNonce() (*big.Int, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}
