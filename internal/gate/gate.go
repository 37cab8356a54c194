// Package gate verifies that an inbound webhook delivery is genuinely from
// the tracker before anything else touches state. Verification runs over the
// exact raw request bytes, strictly before JSON parsing.
package gate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignaturePrefix is the algorithm prefix GitHub puts on the
// X-Hub-Signature-256 header value.
const SignaturePrefix = "sha256="

// Verify checks a hex-encoded, prefix-tagged HMAC-SHA256 signature over the
// raw payload bytes. A missing signature or secret rejects outright. The
// comparison is constant-time.
func Verify(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// Sign computes the expected signature header value for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
