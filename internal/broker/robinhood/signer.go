// Package robinhood implements the signed crypto venue: Ed25519
// request signatures, dual rate caps, and the trading/marketdata
// endpoints behind the venue-neutral broker surface.
package robinhood

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signer produces the per-request Ed25519 authentication headers.
// The message signed is api_key + timestamp + path + method + body.
type Signer struct {
	apiKey string
	key    ed25519.PrivateKey
}

// NewSigner loads the private key from its base64 seed. Keys issued by
// the venue sometimes arrive without padding, so '=' is appended until
// the length is a multiple of four before decoding.
func NewSigner(apiKey, seedBase64 string) (*Signer, error) {
	if apiKey == "" || seedBase64 == "" {
		return nil, fmt.Errorf("api key and private key seed are required")
	}

	if pad := len(seedBase64) % 4; pad != 0 {
		seedBase64 += strings.Repeat("=", 4-pad)
	}
	seed, err := base64.StdEncoding.DecodeString(seedBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	return &Signer{
		apiKey: apiKey,
		key:    ed25519.NewKeyFromSeed(seed),
	}, nil
}

// Sign returns the base64 signature over one request.
func (s *Signer) Sign(method, path, body string, ts time.Time) string {
	message := s.apiKey + strconv.FormatInt(ts.Unix(), 10) + path + method + body
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.key, []byte(message)))
}

// Headers builds the authentication header set for one request. Path
// must include the query string because the venue signs over it.
func (s *Signer) Headers(method, path, body string, ts time.Time) map[string]string {
	return map[string]string{
		"x-api-key":    s.apiKey,
		"x-timestamp":  strconv.FormatInt(ts.Unix(), 10),
		"x-signature":  s.Sign(method, path, body, ts),
		"Content-Type": "application/json; charset=utf-8",
	}
}

// PublicKey exposes the verifying key, mainly for tests and the keygen
// command.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}
