package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const signedPrefix = "s:"

// Sign returns the cookie value for id: "s:<id>.<signature>", or "s:<id>"
// when no secret is configured.
func Sign(id, secret string) string {
	if secret == "" {
		return signedPrefix + id
	}
	return signedPrefix + id + "." + signature(id, secret)
}

// IDFromCookie extracts the session id from a cookie value. When secret is
// set the signature must verify. Values without the "s:" prefix are only
// accepted unsigned.
func IDFromCookie(value, secret string) (string, bool) {
	value = strings.TrimSpace(value)
	signed := strings.HasPrefix(value, signedPrefix)
	if signed {
		value = value[len(signedPrefix):]
	}
	id, sig, _ := strings.Cut(value, ".")
	if id == "" {
		return "", false
	}
	if secret == "" {
		return id, true
	}
	if !signed || sig == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(signature(id, secret))) {
		return "", false
	}
	return id, true
}

func signature(id, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id))
	return base64.RawStdEncoding.EncodeToString(mac.Sum(nil))
}
