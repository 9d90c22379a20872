package mvc

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"net/http"

	"github.com/louisbranch/eta/internal/platform/requestctx"
	"github.com/louisbranch/eta/internal/services/eta/config"
	"github.com/louisbranch/eta/internal/services/eta/platform/httpx"
	"github.com/louisbranch/eta/internal/services/eta/session"
)

// Context is the per-request handle given to actions, transformers and
// scripts.
type Context struct {
	Req         *http.Request
	Res         *Response
	Session     *session.Session
	RouteParams map[string]string
	// MvcPath is the cleaned request path; "/" maps to "/index".
	MvcPath string
	// MvcFullPath is MvcPath plus the raw query.
	MvcFullPath string
	Module      string
	Config      *config.Configuration
	DB          *sql.DB
	Sessions    *session.Manager

	saveSession func(context.Context) error
}

// ContextOptions carries the shared dependencies of a Context.
type ContextOptions struct {
	Config   *config.Configuration
	DB       *sql.DB
	Sessions *session.Manager
	// SaveSession overrides saving through Sessions.
	SaveSession func(context.Context) error
}

// NewContext builds a Context for one request.
func NewContext(w http.ResponseWriter, r *http.Request, s *session.Session, opts ContextOptions) *Context {
	res, ok := w.(*Response)
	if !ok {
		res = NewResponse(w)
	}
	return &Context{
		Req:         r,
		Res:         res,
		Session:     s,
		RouteParams: map[string]string{},
		Config:      opts.Config,
		DB:          opts.DB,
		Sessions:    opts.Sessions,
		saveSession: opts.SaveSession,
	}
}

// Context returns the request context.
func (c *Context) Context() context.Context {
	return httpx.RequestContext(c.Req)
}

// RequestID returns the correlation id of the request.
func (c *Context) RequestID() string {
	return requestctx.RequestIDFromContext(c.Context())
}

// Error sets Raw to more plus {"error": code}.
func (c *Context) Error(code int, more map[string]any) {
	c.Res.Raw = withCode(more, "error", code)
}

// Result sets Raw to more plus {"result": code}.
func (c *Context) Result(code int, more map[string]any) {
	c.Res.Raw = withCode(more, "result", code)
}

func withCode(more map[string]any, key string, code int) map[string]any {
	out := maps.Clone(more)
	if out == nil {
		out = map[string]any{}
	}
	out[key] = code
	return out
}

// Redirect answers 303 See Other and finishes the response.
func (c *Context) Redirect(url string) {
	httpx.WriteRedirect(c.Res, c.Req, url)
}

// SaveSession persists the session and refreshes its cookie.
func (c *Context) SaveSession() error {
	if c.saveSession != nil {
		return c.saveSession(c.Context())
	}
	if c.Sessions == nil {
		return errors.New("session saving is not configured")
	}
	return c.Sessions.Save(c.Context(), c.Res, c.Req, c.Session)
}

// RegenerateSession moves the session to a new id, keeping its values.
func (c *Context) RegenerateSession() error {
	if c.Sessions == nil {
		return errors.New("session manager is not configured")
	}
	return c.Sessions.Regenerate(c.Context(), c.Res, c.Req, c.Session)
}

// DestroySession removes the session and clears its cookie.
func (c *Context) DestroySession() error {
	if c.Sessions == nil {
		return errors.New("session manager is not configured")
	}
	if err := c.Sessions.Destroy(c.Context(), c.Res, c.Req, c.Session); err != nil {
		return err
	}
	for key := range c.Session.Values() {
		c.Session.Delete(key)
	}
	return nil
}

// IsLoggedIn reports whether the session carries a user id.
func (c *Context) IsLoggedIn() bool {
	return c.Session.IsLoggedIn()
}

// Param returns the route param name.
func (c *Context) Param(name string) string {
	return c.RouteParams[name]
}

// SetView stores key in the view data.
func (c *Context) SetView(key string, value any) {
	c.Res.View[key] = value
}
