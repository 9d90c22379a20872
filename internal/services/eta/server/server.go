// Package server aggregates loaded modules into one HTTP handler.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"maps"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/handlers"

	"github.com/louisbranch/eta/internal/platform/i18n"
	"github.com/louisbranch/eta/internal/platform/requestctx"
	"github.com/louisbranch/eta/internal/platform/timeouts"
	"github.com/louisbranch/eta/internal/services/eta/config"
	"github.com/louisbranch/eta/internal/services/eta/module"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/platform/httpx"
	"github.com/louisbranch/eta/internal/services/eta/request"
	"github.com/louisbranch/eta/internal/services/eta/session"
	"github.com/louisbranch/eta/internal/services/eta/storage/memory"
	"github.com/louisbranch/eta/internal/services/eta/transform"
	"github.com/louisbranch/eta/internal/services/eta/view"
)

// Options configures a Server.
type Options struct {
	Addr     string
	BasePath string
	Dev      bool
	// Config is the global configuration.
	Config    *config.Configuration
	DB        *sql.DB
	Sessions  *session.Manager
	Languages *i18n.Resolver
	// AccessLog receives combined-format access lines; nil disables them.
	AccessLog io.Writer
	LoginPath string
}

type paramRoute struct {
	route      mvc.Route
	controller *mvc.Controller
}

// Server routes requests to the controllers, views and static files of the
// initialized modules.
type Server struct {
	opts     Options
	loaders  []*module.Loader
	renderer *view.Renderer
	errors   *view.ErrorPages

	mu           sync.RWMutex
	plainRoutes  map[string]*mvc.Controller
	paramRoutes  []paramRoute
	staticFiles  map[string]string
	viewFiles    map[string]string
	viewMetadata map[string]map[string]any
	transformers []transform.Entry

	httpServer *http.Server
}

// New builds a server over the initialized loaders and subscribes to their
// reload events.
func New(opts Options, loaders []*module.Loader) *Server {
	if opts.Config == nil {
		opts.Config = config.New()
	}
	if opts.Languages == nil {
		opts.Languages = i18n.NewResolver()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(memory.New(), session.Options{})
	}
	renderer := view.NewRenderer(opts.Dev)
	s := &Server{
		opts:     opts,
		renderer: renderer,
		errors: view.NewErrorPages(renderer, opts.BasePath, func() string {
			return opts.Config.GetString(config.KeyHTTPHost)
		}),
	}
	for _, l := range loaders {
		if !l.Initialized() {
			continue
		}
		s.loaders = append(s.loaders, l)
		l.OnControllerLoad(func(*mvc.Controller) { s.Refresh() })
		l.OnMetadataLoad(func(string) { s.Refresh() })
		l.OnViewChange(func(path string) {
			renderer.Invalidate(path)
			s.Refresh()
		})
	}
	s.Refresh()
	return s
}

// Renderer returns the view renderer.
func (s *Server) Renderer() *view.Renderer { return s.renderer }

// ErrorPages returns the error page renderer.
func (s *Server) ErrorPages() *view.ErrorPages { return s.errors }

// Refresh rebuilds the indexes from the loaders. On conflicts the first
// module, in load order, wins.
func (s *Server) Refresh() {
	plain := map[string]*mvc.Controller{}
	var params []paramRoute
	seenParams := map[string]bool{}
	staticFiles := map[string]string{}
	viewFiles := map[string]string{}
	metadata := map[string]map[string]any{}
	var transformers []transform.Entry

	for _, l := range s.loaders {
		for _, c := range l.Controllers() {
			for _, route := range c.Routes {
				key := route.Key()
				if route.IsParam() {
					if seenParams[key] {
						log.Printf("warn: route %s of controller %s is already registered", route.Raw(), c.Name)
						continue
					}
					seenParams[key] = true
					params = append(params, paramRoute{route: route, controller: c})
					continue
				}
				if existing, ok := plain[key]; ok {
					log.Printf("warn: route %s of controller %s is already registered by %s", route.Raw(), c.Name, existing.Name)
					continue
				}
				plain[key] = c
			}
		}
		mergeFirst(staticFiles, l.StaticFiles())
		mergeFirst(viewFiles, l.ViewFiles())
		for mvcPath, value := range l.ViewMetadata() {
			if _, ok := metadata[mvcPath]; !ok {
				metadata[mvcPath] = value
			}
		}
		transformers = append(transformers, l.Transformers()...)
	}

	s.mu.Lock()
	s.plainRoutes = plain
	s.paramRoutes = params
	s.staticFiles = staticFiles
	s.viewFiles = viewFiles
	s.viewMetadata = metadata
	s.transformers = transformers
	s.mu.Unlock()
}

func mergeFirst(dst, src map[string]string) {
	for key, value := range src {
		if _, ok := dst[key]; !ok {
			dst[key] = value
		}
	}
}

// StaticFiles returns web path to file path.
func (s *Server) StaticFiles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.staticFiles)
}

// ViewFiles returns mvc path to template path.
func (s *Server) ViewFiles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.viewFiles)
}

// Match finds the controller for a route path: plain routes first, then
// parameterized routes in load order.
func (s *Server) Match(routePath string) (*mvc.Controller, map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.plainRoutes[mvc.NormalizeRoute(routePath)]; ok {
		return c, map[string]string{}
	}
	for _, entry := range s.paramRoutes {
		if params, ok := entry.route.Match(routePath); ok {
			return entry.controller, params
		}
	}
	return nil, nil
}

// VerifyStaticFile looks for a static file that appeared after the indexes
// were built and records it when found.
func (s *Server) VerifyStaticFile(mvcPath string) bool {
	cleaned := path.Clean("/" + mvcPath)
	if cleaned != mvcPath {
		return false
	}
	for _, l := range s.loaders {
		for _, dir := range l.Config().Dirs.StaticFiles {
			candidate := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(cleaned, "/")))
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			s.mu.Lock()
			s.staticFiles[mvcPath] = filepath.ToSlash(candidate)
			s.mu.Unlock()
			return true
		}
	}
	return false
}

func (s *Server) staticFile(mvcPath string) (string, bool) {
	s.mu.RLock()
	file, ok := s.staticFiles[mvcPath]
	s.mu.RUnlock()
	if ok || !s.opts.Dev {
		return file, ok
	}
	if !s.VerifyStaticFile(mvcPath) {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok = s.staticFiles[mvcPath]
	return file, ok
}

func (s *Server) viewFile(mvcPath string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.viewFiles[mvcPath]
	return file, ok
}

func (s *Server) snapshot(mvcPath string) (map[string]any, []transform.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewMetadata[mvcPath], s.transformers
}

// cloneValue copies the maps and slices decoded from view metadata so each
// request writes into its own tree.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}

// MvcPath cleans a URL path and maps a trailing slash to its index action.
func MvcPath(urlPath string) string {
	if urlPath == "" {
		urlPath = "/"
	}
	cleaned := path.Clean("/" + urlPath)
	if strings.HasSuffix(urlPath, "/") {
		if cleaned == "/" {
			return "/index"
		}
		return cleaned + "/index"
	}
	return cleaned
}

// ServeHTTP dispatches one request through the pipeline.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	sess, err := s.opts.Sessions.FromRequest(ctx, r)
	if err != nil {
		log.Printf("load session path=%s: %v", r.URL.Path, err)
		s.errors.Render(w, r, http.StatusInternalServerError)
		return
	}
	if userID, ok := sess.UserID(); ok {
		r = r.WithContext(requestctx.WithUserID(ctx, userID))
	}

	res := mvc.NewResponse(w)
	c := mvc.NewContext(res, r, sess, mvc.ContextOptions{
		Config:   s.opts.Config,
		DB:       s.opts.DB,
		Sessions: s.opts.Sessions,
	})
	c.MvcPath = MvcPath(r.URL.Path)
	c.MvcFullPath = r.URL.RequestURI()

	routePath, action := mvc.SplitPath(c.MvcPath)
	controller, params := s.Match(routePath)
	if controller != nil {
		c.Module = controller.Module
		c.RouteParams = params
	}

	metadata, transformers := s.snapshot(c.MvcPath)
	for key, value := range metadata {
		res.View[key] = cloneValue(value)
	}
	tag, setCookie := s.opts.Languages.ResolveTag(r)
	if setCookie {
		i18n.SetLanguageCookie(res, tag)
	}
	res.View["lang"] = tag.String()

	env := &request.Env{
		Dev:          s.opts.Dev,
		StaticFile:   s.staticFile,
		ViewFile:     s.viewFile,
		Transformers: transformers,
		Renderer:     s.renderer,
		Errors:       s.errors,
		LoginPath:    s.opts.LoginPath,
	}
	request.New(env, c, controller, action).Handle()
}

// Handler returns the server wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	handler := httpx.Chain(s, httpx.RecoverPanic(), httpx.RequestID())
	handler = handlers.ProxyHeaders(handler)
	if s.opts.AccessLog != nil {
		handler = handlers.CombinedLoggingHandler(s.opts.AccessLog, handler)
	}
	return handler
}

// ListenAndServe serves HTTP until ctx ends, then shuts down within
// timeouts.Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if strings.TrimSpace(s.opts.Addr) == "" {
		return errors.New("http address is required")
	}
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves HTTP on listener until ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	serveErr := make(chan error, 1)
	log.Printf("eta listening on %s", listener.Addr())
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
