// Package view renders html/template views and error pages.
package view

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"sync"

	"github.com/a-h/templ"
)

// Ext is the file extension of views.
const Ext = ".html"

// Renderer parses and executes view templates. Parsed templates are cached
// unless the renderer is in dev mode.
type Renderer struct {
	dev   bool
	funcs template.FuncMap

	mu    sync.RWMutex
	cache map[string]*template.Template
}

// NewRenderer returns a renderer. Dev mode reparses on every render.
func NewRenderer(dev bool) *Renderer {
	return &Renderer{
		dev:   dev,
		funcs: defaultFuncs(),
		cache: map[string]*template.Template{},
	}
}

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) (template.JS, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return template.JS(data), nil
		},
		"default": func(fallback, v any) any {
			if v == nil || v == "" {
				return fallback
			}
			return v
		},
	}
}

// Invalidate drops the cached template for path.
func (r *Renderer) Invalidate(path string) {
	r.mu.Lock()
	delete(r.cache, filepath.Clean(path))
	r.mu.Unlock()
}

// InvalidateAll empties the cache.
func (r *Renderer) InvalidateAll() {
	r.mu.Lock()
	clear(r.cache)
	r.mu.Unlock()
}

// Cached reports whether path has a cached template.
func (r *Renderer) Cached(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[filepath.Clean(path)]
	return ok
}

func (r *Renderer) template(path string) (*template.Template, error) {
	path = filepath.Clean(path)
	if !r.dev {
		r.mu.RLock()
		tmpl, ok := r.cache[path]
		r.mu.RUnlock()
		if ok {
			return tmpl, nil
		}
	}
	tmpl, err := template.New(filepath.Base(path)).Funcs(r.funcs).ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("parse view %s: %w", path, err)
	}
	if !r.dev {
		r.mu.Lock()
		r.cache[path] = tmpl
		r.mu.Unlock()
	}
	return tmpl, nil
}

// Component returns the view at path bound to data.
func (r *Renderer) Component(path string, data map[string]any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		tmpl, err := r.template(path)
		if err != nil {
			return err
		}
		if err := tmpl.Execute(w, data); err != nil {
			return fmt.Errorf("render view %s: %w", path, err)
		}
		return nil
	})
}

// Render executes the view at path into a buffer, so a failure leaves
// nothing written to the client.
func (r *Renderer) Render(ctx context.Context, path string, data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Component(path, data).Render(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
