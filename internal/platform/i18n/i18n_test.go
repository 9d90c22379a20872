package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"
)

func TestResolveTag(t *testing.T) {
	t.Parallel()

	resolver := NewResolver("en-US", "pt-BR")
	tests := []struct {
		name    string
		target  string
		cookie  string
		accept  string
		want    language.Tag
		persist bool
	}{
		{name: "query param", target: "/?lang=pt-BR", want: language.BrazilianPortuguese, persist: true},
		{name: "cookie", target: "/", cookie: "pt-BR", want: language.BrazilianPortuguese},
		{name: "accept language", target: "/", accept: "pt-BR,pt;q=0.9", want: language.BrazilianPortuguese},
		{name: "unknown query falls through", target: "/?lang=zz-invalid-", want: language.AmericanEnglish},
		{name: "default", target: "/", want: language.AmericanEnglish},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LangCookieName, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			tag, persist := resolver.ResolveTag(req)
			if tag != tt.want {
				t.Fatalf("tag = %v, want %v", tag, tt.want)
			}
			if persist != tt.persist {
				t.Fatalf("persist = %v, want %v", persist, tt.persist)
			}
		})
	}
}

func TestNewResolverDefaultsToEnglish(t *testing.T) {
	t.Parallel()

	resolver := NewResolver("not a tag!!")
	if got := resolver.Default(); got != language.AmericanEnglish {
		t.Fatalf("Default() = %v", got)
	}
	if got, _ := resolver.ResolveTag(nil); got != language.AmericanEnglish {
		t.Fatalf("ResolveTag(nil) = %v", got)
	}
}

func TestSetLanguageCookie(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetLanguageCookie(rec, language.BrazilianPortuguese)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != LangCookieName || cookies[0].Value != "pt-BR" {
		t.Fatalf("cookies = %+v", cookies)
	}
}
