package view

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/a-h/templ"

	"github.com/louisbranch/eta/internal/services/eta/platform/httpx"
)

// ErrorLayout is the fallback error view name.
const ErrorLayout = "layout"

// ErrorPages renders error responses from <base>/server/errors.
type ErrorPages struct {
	renderer *Renderer
	dir      string
	host     func() string
}

// NewErrorPages builds error pages rooted at basePath. host supplies the
// http.host used in the support address.
func NewErrorPages(renderer *Renderer, basePath string, host func() string) *ErrorPages {
	return &ErrorPages{
		renderer: renderer,
		dir:      filepath.Join(basePath, "server", "errors"),
		host:     host,
	}
}

// Dir returns the directory holding error views.
func (p *ErrorPages) Dir() string { return p.dir }

// ViewFor returns the error view for code: <code>.html, then layout.html.
// It returns "" when neither exists.
func (p *ErrorPages) ViewFor(code int) string {
	for _, name := range []string{strconv.Itoa(code), ErrorLayout} {
		path := filepath.Join(p.dir, name+Ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Data returns the view data of an error page.
func (p *ErrorPages) Data(code int) map[string]any {
	host := ""
	if p.host != nil {
		host = p.host()
	}
	return map[string]any{
		"errorCode": code,
		"email":     "support@" + host,
	}
}

// Render writes the error page for code with that status.
func (p *ErrorPages) Render(w http.ResponseWriter, r *http.Request, code int) {
	if w == nil {
		return
	}
	if code < http.StatusOK || code > 599 {
		code = http.StatusInternalServerError
	}
	data := p.Data(code)
	var component templ.Component = defaultErrorPage(code, data["email"].(string))
	if path := p.ViewFor(code); path != "" && p.renderer != nil {
		component = p.renderer.Component(path, data)
	}

	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		log.Printf("render error page status=%d: %v", code, err)
		buf.Reset()
		if err := defaultErrorPage(code, data["email"].(string)).Render(ctx, &buf); err != nil {
			http.Error(w, http.StatusText(code), code)
			return
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if err := httpx.WriteHTML(w, code, buf.String()); err != nil {
		log.Printf("write error page status=%d: %v", code, err)
	}
}

func defaultErrorPage(code int, email string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		title := templ.EscapeString(strconv.Itoa(code) + " " + http.StatusText(code))
		contact := templ.EscapeString(email)
		_, err := io.WriteString(w, "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>"+title+
			"</title></head><body><h1>"+title+"</h1><p>Contact <a href=\"mailto:"+contact+"\">"+contact+
			"</a> if the problem persists.</p></body></html>")
		return err
	})
}
