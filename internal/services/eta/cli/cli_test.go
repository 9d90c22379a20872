package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/louisbranch/eta/internal/platform/grpc"
	"github.com/louisbranch/eta/internal/services/eta/app"
	"github.com/louisbranch/eta/internal/services/eta/crypto"
	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/transform"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"crypto hash":      "crypto/hash",
		"  crypto   hash ": "crypto/hash",
		"crypto/hash":      "crypto/hash",
		"":                 "",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecCachesAction(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	builds := 0
	var seen [][]string
	err := r.RegisterFactory("db seed", func() (Action, error) {
		builds++
		return func(_ context.Context, args []string) error {
			seen = append(seen, args)
			return nil
		}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Exec(context.Background(), "db seed", "a"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if err := r.Exec(context.Background(), "db/seed", "b", "c"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if builds != 1 {
		t.Fatalf("builds = %d", builds)
	}
	if len(seen) != 2 || !slices.Equal(seen[1], []string{"b", "c"}) {
		t.Fatalf("seen = %v", seen)
	}
}

func TestExecErrors(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Exec(context.Background(), "nope"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v", err)
	}
	_ = r.RegisterFactory("broken", func() (Action, error) { return nil, errors.New("boom") })
	if err := r.Exec(context.Background(), "broken"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
	if err := r.Register("dup", func(context.Context, []string) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("dup", func(context.Context, []string) error { return nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	noop := func(context.Context, []string) error { return nil }
	_ = r.Register("db", noop)
	_ = r.Register("db seed", noop)

	tests := []struct {
		words   []string
		command string
		args    []string
		ok      bool
	}{
		{[]string{"db", "seed", "users"}, "db/seed", []string{"users"}, true},
		{[]string{"db", "reset"}, "db", []string{"reset"}, true},
		{[]string{"other"}, "", []string{"other"}, false},
	}
	for _, tc := range tests {
		command, args, ok := r.Resolve(tc.words)
		if command != tc.command || ok != tc.ok || !slices.Equal(args, tc.args) {
			t.Errorf("Resolve(%v) = %q %v %v", tc.words, command, args, ok)
		}
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newBuiltins(t *testing.T) (*Registry, *bytes.Buffer) {
	t.Helper()
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "config", "global.json"), `{"http": {"host": "eta.test", "port": 3000}}`)
	writeFile(t, filepath.Join(base, "config", "staging.json"), `{"http": {"host": "staging.test"}}`)
	writeFile(t, filepath.Join(base, "modules", "blog", "eta.json"), `{"dirs": {"staticFiles": ["static"], "views": ["views"]}}`)
	writeFile(t, filepath.Join(base, "modules", "blog", "static", "logo.png"), strings.Repeat("x", 2000))
	writeFile(t, filepath.Join(base, "modules", "blog", "views", "index.html"), `hi`)
	writeFile(t, filepath.Join(base, "modules", "shop", "eta.json"), `{"disable": true}`)

	out := &bytes.Buffer{}
	r := NewRegistry()
	err := RegisterBuiltins(r, Env{Out: out, NewApp: func() *app.Application {
		return app.New(app.Config{
			BasePath:     base,
			Controllers:  mvc.NewRegistry(),
			Lifecycle:    lifecycle.NewRegistry(),
			Transformers: transform.NewRegistry(),
		})
	}})
	if err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return r, out
}

func TestModulesList(t *testing.T) {
	t.Parallel()
	r, out := newBuiltins(t)
	if err := r.Run(context.Background(), []string{"modules", "list"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output = %q", out.String())
	}
	if lines[0] != "blog\tenabled\t0 controllers\t1 views\t1 static files (2.0 kB)" {
		t.Fatalf("blog line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "shop\tdisabled\t") {
		t.Fatalf("shop line = %q", lines[1])
	}
}

func TestConfigGet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		words   []string
		want    string
		wantErr bool
	}{
		{name: "string", words: []string{"config", "get", "http.host"}, want: `"eta.test"`},
		{name: "number", words: []string{"config", "get", "http.port"}, want: `3000`},
		{name: "named", words: []string{"config", "get", "http.host", "staging"}, want: `"staging.test"`},
		{name: "missing key", words: []string{"config", "get", "nope"}, wantErr: true},
		{name: "missing config", words: []string{"config", "get", "http.host", "prod"}, wantErr: true},
		{name: "no key", words: []string{"config", "get"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, out := newBuiltins(t)
			err := r.Run(context.Background(), tc.words)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := strings.TrimSpace(out.String()); got != tc.want {
				t.Fatalf("output = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCryptoCommands(t *testing.T) {
	t.Parallel()
	r, out := newBuiltins(t)
	ctx := context.Background()

	if err := r.Run(ctx, []string{"crypto", "hash", "secret", "salt"}); err != nil {
		t.Fatalf("hash: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != crypto.HashPassword("secret", "salt") {
		t.Fatalf("hash = %q", got)
	}

	out.Reset()
	if err := r.Run(ctx, []string{"crypto", "salt", "8"}); err != nil {
		t.Fatalf("salt: %v", err)
	}
	if got := strings.TrimSpace(out.String()); len(got) != 8 {
		t.Fatalf("salt = %q", got)
	}

	key := strings.Repeat("k", crypto.KeyLength)
	out.Reset()
	if err := r.Run(ctx, []string{"crypto", "encrypt", "hello", key}); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	encrypted := strings.TrimSpace(out.String())
	out.Reset()
	if err := r.Run(ctx, []string{"crypto", "decrypt", encrypted, key}); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "hello" {
		t.Fatalf("decrypt = %q", got)
	}

	if err := r.Run(ctx, []string{"crypto", "hash", "only-one"}); err == nil {
		t.Fatal("expected usage error")
	}
	if err := r.Run(ctx, []string{"crypto", "salt", "many"}); err == nil {
		t.Fatal("expected length error")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	r, out := newBuiltins(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := grpc.NewHealthServer()
	hs.SetServing("", true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.Serve(ctx, listener) }()
	defer func() {
		cancel()
		<-done
	}()

	addr := listener.Addr().String()
	if err := r.Run(context.Background(), []string{"health", "check", addr}); err != nil {
		t.Fatalf("health check: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != addr+" SERVING" {
		t.Fatalf("output = %q", got)
	}

	if err := r.Run(context.Background(), []string{"health", "check"}); err == nil {
		t.Fatal("expected usage error without an address")
	}
}
