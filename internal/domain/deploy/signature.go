package deploy

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Sign renders the X-Hub-Signature-256 value for body under secret.
func Sign(secret []byte, body []byte) string {
	return signaturePrefix + digestHex(secret, body)
}

// VerifySignature reports whether header carries the HMAC-SHA256 of body
// under secret. Shape errors (missing prefix, non-hex or short digest) yield
// false.
func VerifySignature(body []byte, header string, secret []byte) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	received := header[len(signaturePrefix):]
	if len(received) != sha256.Size*2 {
		return false
	}
	if _, err := hex.DecodeString(received); err != nil {
		return false
	}

	expected := digestHex(secret, body)
	return subtle.ConstantTimeCompare([]byte(received), []byte(expected)) == 1
}

func digestHex(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
