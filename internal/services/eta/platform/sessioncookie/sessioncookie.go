// Package sessioncookie centralizes the session cookie attributes.
package sessioncookie

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Name is the session cookie name, kept compatible with connect-style
// session middleware so existing browser sessions survive.
const Name = "connect.sid"

// Read returns the decoded session cookie value when present.
func Read(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(Name)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if decoded, err := url.QueryUnescape(value); err == nil {
		value = decoded
	}
	if value == "" {
		return "", false
	}
	return value, true
}

// Write sets the session cookie. A zero ttl makes it a browser-session cookie.
func Write(w http.ResponseWriter, r *http.Request, value string, ttl time.Duration) {
	if w == nil {
		return
	}
	cookie := &http.Cookie{
		Name:     Name,
		Value:    url.QueryEscape(strings.TrimSpace(value)),
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
		cookie.Expires = time.Now().Add(ttl).UTC()
	}
	http.SetCookie(w, cookie)
}

// Clear expires the session cookie.
func Clear(w http.ResponseWriter, r *http.Request) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// isHTTPS trusts r.URL.Scheme, which the proxy-headers middleware fills from
// X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return r.URL != nil && strings.EqualFold(r.URL.Scheme, "https")
}
