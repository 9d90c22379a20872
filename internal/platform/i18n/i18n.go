// Package i18n negotiates the language a view is rendered in.
package i18n

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	// LangParam is the query parameter used to select a language.
	LangParam = "lang"
	// LangCookieName stores the visitor's language preference.
	LangCookieName = "eta_lang"
)

// Resolver picks a supported language for a request.
type Resolver struct {
	supported []language.Tag
	matcher   language.Matcher
}

// NewResolver builds a resolver over the given BCP 47 tags. Unparseable tags
// are skipped; the first valid tag is the default. With no valid tags the
// resolver supports American English only.
func NewResolver(tags ...string) *Resolver {
	supported := make([]language.Tag, 0, len(tags))
	for _, raw := range tags {
		tag, err := language.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		supported = append(supported, tag)
	}
	if len(supported) == 0 {
		supported = []language.Tag{language.AmericanEnglish}
	}
	return &Resolver{supported: supported, matcher: language.NewMatcher(supported)}
}

// Default returns the fallback language.
func (r *Resolver) Default() language.Tag {
	return r.supported[0]
}

// Supported returns a copy of the supported tags.
func (r *Resolver) Supported() []language.Tag {
	return append([]language.Tag(nil), r.supported...)
}

// ResolveTag determines the language for req from the lang query param, the
// preference cookie, then Accept-Language. The bool reports whether the query
// param selected it and should be persisted.
func (r *Resolver) ResolveTag(req *http.Request) (language.Tag, bool) {
	if req == nil {
		return r.Default(), false
	}
	if value := strings.TrimSpace(req.URL.Query().Get(LangParam)); value != "" {
		if tag, ok := r.parse(value); ok {
			return tag, true
		}
	}
	if cookie, err := req.Cookie(LangCookieName); err == nil {
		if tag, ok := r.parse(cookie.Value); ok {
			return tag, false
		}
	}
	if accept := strings.TrimSpace(req.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, index, confidence := r.matcher.Match(tags...)
			if confidence != language.No {
				return r.supported[index], false
			}
		}
	}
	return r.Default(), false
}

func (r *Resolver) parse(value string) (language.Tag, bool) {
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, false
	}
	_, index, confidence := r.matcher.Match(tag)
	if confidence == language.No {
		return language.Und, false
	}
	return r.supported[index], true
}

// SetLanguageCookie persists tag on the response for a year.
func SetLanguageCookie(w http.ResponseWriter, tag language.Tag) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}
