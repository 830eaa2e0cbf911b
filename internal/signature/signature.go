// Package signature implements the keyed digest shared by the webhook
// sender and receiver. Signatures are hex-encoded HMAC-SHA256 digests
// computed over the exact raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer produces signatures for outbound webhook payloads.
type Signer struct {
	Secret string
}

// Sign returns the lowercase hex HMAC-SHA256 digest of body. An empty
// secret yields an empty signature so misconfiguration never validates.
func (s Signer) Sign(body []byte) string {
	key := strings.TrimSpace(s.Secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks inbound webhook signatures.
type Verifier struct {
	Secret string
}

// Verify reports whether provided matches the expected digest for body.
// The comparison is constant time; timing-safe equality is a correctness
// requirement here, not an optimisation.
func (v Verifier) Verify(body []byte, provided string) bool {
	expected := Signer{Secret: v.Secret}.Sign(body)
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Expected exposes the digest the verifier would accept for body. Callers
// must only log it server-side, never echo it to the requester.
func (v Verifier) Expected(body []byte) string {
	return Signer{Secret: v.Secret}.Sign(body)
}
