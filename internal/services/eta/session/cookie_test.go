package session

import "testing"

func TestSignMatchesConnectFormat(t *testing.T) {
	t.Parallel()

	if got := Sign("abc", "keyboard cat"); got != "s:abc.BpxCrWRpvZMh/wk/djl34N+m+VQEU7K/5WenLwJCgFU" {
		t.Fatalf("Sign() = %q", got)
	}
	if got := Sign("abc", ""); got != "s:abc" {
		t.Fatalf("Sign() unsigned = %q", got)
	}
}

func TestIDFromCookie(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		value  string
		secret string
		want   string
		ok     bool
	}{
		{name: "signed valid", value: Sign("abc", "k"), secret: "k", want: "abc", ok: true},
		{name: "signed tampered", value: "s:abd." + signature("abc", "k"), secret: "k"},
		{name: "signed wrong secret", value: Sign("abc", "other"), secret: "k"},
		{name: "missing signature with secret", value: "s:abc", secret: "k"},
		{name: "unprefixed with secret", value: "abc." + signature("abc", "k"), secret: "k"},
		{name: "no secret strips prefix and signature", value: "s:abc.whatever", want: "abc", ok: true},
		{name: "no secret unprefixed", value: "abc", want: "abc", ok: true},
		{name: "empty", value: "s:", secret: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := IDFromCookie(tt.value, tt.secret)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("IDFromCookie(%q) = %q, %v; want %q, %v", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}
