package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/eta/internal/platform/i18n"
	"github.com/louisbranch/eta/internal/services/eta/config"
	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
	"github.com/louisbranch/eta/internal/services/eta/module"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/transform"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const manifest = `{"dirs": {"staticFiles": ["static"], "views": ["views"]}}`

type site struct {
	base    string
	modules string
	loaders []*module.Loader
}

func newSite(t *testing.T) *site {
	t.Helper()
	base := t.TempDir()
	s := &site{base: base, modules: filepath.Join(base, "modules")}

	writeFile(t, filepath.Join(s.modules, "blog", module.ConfigFile), manifest)
	writeFile(t, filepath.Join(s.modules, "blog", "static", "site.css"), "blog{}")
	writeFile(t, filepath.Join(s.modules, "blog", "views", "home", "index.html"), `<p>{{.title}} {{.lang}}</p>`)
	writeFile(t, filepath.Join(s.modules, "blog", "views", "home", "index.json"), `{"title": "Home"}`)
	writeFile(t, filepath.Join(s.modules, "shop", module.ConfigFile), manifest)
	writeFile(t, filepath.Join(s.modules, "shop", "static", "site.css"), "shop{}")
	writeFile(t, filepath.Join(s.modules, "shop", "static", "cart.js"), "cart()")

	controllers := mvc.NewRegistry()
	raw := func(body string) mvc.HandlerFunc {
		return func(c *mvc.Context, _ mvc.Params) error {
			c.Res.Raw = body
			return nil
		}
	}
	mustRegister(t, controllers, "blog", mvc.NewController("posts", "/posts").
		Handle("index", mvc.Action{Handler: raw("blog posts")}))
	mustRegister(t, controllers, "blog", mvc.NewController("post", "/posts/:id").
		Handle("show", mvc.Action{Handler: func(c *mvc.Context, _ mvc.Params) error {
			c.Res.Raw = "post " + c.Param("id") + " from " + c.Module
			return nil
		}}))
	mustRegister(t, controllers, "shop", mvc.NewController("posts", "/posts").
		Handle("index", mvc.Action{Handler: raw("shop posts")}))

	configs := map[string]*config.Configuration{config.GlobalName: config.New()}
	opts := module.Options{
		Controllers:  controllers,
		Lifecycle:    lifecycle.NewRegistry(),
		Transformers: transform.NewRegistry(),
	}
	for _, name := range []string{"blog", "shop"} {
		l := module.NewLoader(name, s.modules, base, configs, opts)
		if err := l.LoadAll(context.Background()); err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		s.loaders = append(s.loaders, l)
	}
	return s
}

func mustRegister(t *testing.T, r *mvc.Registry, module string, c *mvc.Controller) {
	t.Helper()
	if err := r.Register(module, c); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func newServer(t *testing.T, dev bool) (*Server, *site) {
	t.Helper()
	s := newSite(t)
	srv := New(Options{
		BasePath:  s.base,
		Dev:       dev,
		Languages: i18n.NewResolver("en-US", "pt-BR"),
	}, s.loaders)
	return srv, s
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMvcPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"", "/index"},
		{"/", "/index"},
		{"/posts/", "/posts/index"},
		{"/posts", "/posts"},
		{"/a//b/../c", "/a/c"},
	}
	for _, tc := range tests {
		if got := MvcPath(tc.in); got != tc.want {
			t.Errorf("MvcPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestServeHTTPRoutes(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, false)

	tests := []struct {
		name   string
		target string
		code   int
		body   string
	}{
		{name: "first module wins plain route", target: "/posts/", code: http.StatusOK, body: "blog posts"},
		{name: "param route", target: "/posts/7/show", code: http.StatusOK, body: "post 7 from blog"},
		{name: "first module wins static file", target: "/site.css", code: http.StatusOK, body: "blog{}"},
		{name: "static from second module", target: "/cart.js", code: http.StatusOK, body: "cart()"},
		{name: "view with metadata", target: "/home/", code: http.StatusOK, body: "<p>Home en-US</p>"},
		{name: "unknown path", target: "/nothing/here", code: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(srv, http.MethodGet, tc.target)
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d (body %q)", rec.Code, tc.code, rec.Body.String())
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}

func TestServeHTTPLanguageCookie(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, false)
	rec := do(srv, http.MethodGet, "/home/?lang=pt-BR")
	if rec.Body.String() != "<p>Home pt-BR</p>" {
		t.Fatalf("body = %q", rec.Body.String())
	}
	cookies := strings.Join(rec.Header().Values("Set-Cookie"), "\n")
	if !strings.Contains(cookies, i18n.LangCookieName+"=pt-BR") {
		t.Fatalf("cookies = %q", cookies)
	}
}

func TestViewMetadataIsCopiedPerRequest(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	modules := filepath.Join(base, "modules")
	writeFile(t, filepath.Join(modules, "site", module.ConfigFile), manifest)
	writeFile(t, filepath.Join(modules, "site", "views", "home", "index.html"), `<p>user={{.nav.user}}</p>`)
	writeFile(t, filepath.Join(modules, "site", "views", "home", "index.json"), `{"nav": {"title": "Home", "links": [{"href": "/"}]}}`)

	controllers := mvc.NewRegistry()
	mustRegister(t, controllers, "site", mvc.NewController("home", "/home").
		Handle("index", mvc.Action{UseView: true, Handler: func(c *mvc.Context, params mvc.Params) error {
			nav := c.Res.View["nav"].(map[string]any)
			if user := params.String("u"); user != "" {
				nav["user"] = user
				nav["links"].([]any)[0].(map[string]any)["href"] = "/" + user
			}
			return nil
		}}))
	configs := map[string]*config.Configuration{config.GlobalName: config.New()}
	l := module.NewLoader("site", modules, base, configs, module.Options{
		Controllers:  controllers,
		Lifecycle:    lifecycle.NewRegistry(),
		Transformers: transform.NewRegistry(),
	})
	if err := l.LoadAll(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	srv := New(Options{BasePath: base}, []*module.Loader{l})

	if rec := do(srv, http.MethodGet, "/home/index?u=alice"); !strings.Contains(rec.Body.String(), "user=alice") {
		t.Fatalf("first body = %q", rec.Body.String())
	}
	if rec := do(srv, http.MethodGet, "/home/index"); strings.Contains(rec.Body.String(), "alice") {
		t.Fatalf("second visitor saw first visitor's data: %q", rec.Body.String())
	}
	nav := srv.viewMetadata["/home/index"]["nav"].(map[string]any)
	if _, ok := nav["user"]; ok {
		t.Fatalf("stored metadata mutated: %v", nav)
	}
	if href := nav["links"].([]any)[0].(map[string]any)["href"]; href != "/" {
		t.Fatalf("stored metadata list mutated: %v", href)
	}

	var wg sync.WaitGroup
	for _, user := range []string{"ana", "bo", "cy", "di"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rec := do(srv, http.MethodGet, "/home/index?u="+user); !strings.Contains(rec.Body.String(), "user="+user) {
				t.Errorf("body for %s = %q", user, rec.Body.String())
			}
		}()
	}
	wg.Wait()
}

func TestMatch(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, false)

	c, params := srv.Match("/posts")
	if c == nil || c.Module != "blog" || len(params) != 0 {
		t.Fatalf("plain match = %v %v", c, params)
	}
	c, params = srv.Match("/posts/42")
	if c == nil || c.Name != "post" || params["id"] != "42" {
		t.Fatalf("param match = %v %v", c, params)
	}
	if c, _ := srv.Match("/missing"); c != nil {
		t.Fatalf("unexpected match %v", c)
	}
}

func TestVerifyStaticFile(t *testing.T) {
	t.Parallel()
	srv, s := newServer(t, true)

	if rec := do(srv, http.MethodGet, "/late.txt"); rec.Code != http.StatusNotFound {
		t.Fatalf("code before file = %d", rec.Code)
	}
	writeFile(t, filepath.Join(s.modules, "shop", "static", "late.txt"), "late")
	rec := do(srv, http.MethodGet, "/late.txt")
	if rec.Code != http.StatusOK || rec.Body.String() != "late" {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
	}
	if _, ok := srv.StaticFiles()["/late.txt"]; !ok {
		t.Fatal("late file was not indexed")
	}
	if srv.VerifyStaticFile("/../shop/eta.json") {
		t.Fatal("traversal accepted")
	}
}

func TestRefreshPicksUpLoaderChanges(t *testing.T) {
	t.Parallel()
	srv, s := newServer(t, false)
	writeFile(t, filepath.Join(s.modules, "blog", "views", "about.html"), `about`)
	if _, ok := srv.ViewFiles()["/about"]; ok {
		t.Fatal("view indexed before reload")
	}
	s.loaders[0].LoadViews()
	srv.Refresh()
	if rec := do(srv, http.MethodGet, "/about"); rec.Body.String() != "about" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestHandlerMiddleware(t *testing.T) {
	t.Parallel()
	s := newSite(t)
	var access bytes.Buffer
	srv := New(Options{BasePath: s.base, AccessLog: &access}, s.loaders)

	rec := do(srv.Handler(), http.MethodGet, "/posts/")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(access.String(), "GET /posts/") {
		t.Fatalf("access log = %q", access.String())
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s := newSite(t)
	srv := New(Options{BasePath: s.base}, s.loaders)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "http://" + listener.Addr().String() + "/posts/"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeRequiresAddr(t *testing.T) {
	t.Parallel()
	srv := New(Options{}, nil)
	if err := srv.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
