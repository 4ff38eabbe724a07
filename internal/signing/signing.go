package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// BodyHash returns the lowercase hex SHA-256 digest of body.
func BodyHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Canonical builds the newline-joined string that gets signed: the header
// parts in order, followed by the body hash.
func Canonical(parts []string, body string) string {
	fields := make([]string, 0, len(parts)+1)
	fields = append(fields, parts...)
	fields = append(fields, BodyHash(body))
	return strings.Join(fields, "\n")
}

// Sign returns base64(HMAC-SHA256(canonical, secret)).
// Part order is significant; the remote verifier rebuilds the same string.
func Sign(parts []string, body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Canonical(parts, body)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(parts []string, body, secret, signature string) bool {
	if signature == "" {
		return false
	}
	want := Sign(parts, body, secret)
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}
