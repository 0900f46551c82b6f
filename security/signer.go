package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer signs and verifies payloads with HMAC-SHA-256 under a shared secret.
// It is the integrity primitive behind every signed cookie the broker emits.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex-encoded HMAC-SHA-256 of payload.
func (s *Signer) Sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHex is a valid signature over payload.
// Malformed hex input yields false, never an error. Comparison uses
// hmac.Equal, which is constant-time.
func (s *Signer) Verify(signatureHex, payload string) bool {
	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hmac.Equal(signature, mac.Sum(nil))
}
