package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier authenticates a webhook body before the core trusts it.
// Pluggable so the finalize/release triggers stay provider-agnostic.
type Verifier interface {
	Verify(body []byte, signature string) bool
}

// HMACVerifier checks the hex-encoded HMAC-SHA256 of the raw body
// against the shared provider secret.
type HMACVerifier struct {
	Secret []byte
}

func (v HMACVerifier) Verify(body []byte, signature string) bool {
	if len(v.Secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(body)
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign is the inverse of Verify. Used by tests and by the sandbox
// tooling that replays provider notifications.
func (v HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
