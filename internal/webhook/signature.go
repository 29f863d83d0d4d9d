package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader is the request header carrying the payload signature.
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Sign computes the signature header value for a payload body:
// "sha256=" plus the hex HMAC-SHA256 of the exact bytes sent.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature header against the body.
// The comparison is constant time so the check does not leak how much
// of the signature matched.
func VerifySignature(secret string, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
