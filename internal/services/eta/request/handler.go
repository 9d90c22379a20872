// Package request runs one HTTP request through the Eta pipeline: static
// files, transformers, authentication, authorization, the controller action
// and view rendering.
package request

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/eta/internal/platform/requestctx"
	"github.com/louisbranch/eta/internal/services/eta/crypto"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	apperrors "github.com/louisbranch/eta/internal/services/eta/platform/errors"
	"github.com/louisbranch/eta/internal/services/eta/platform/httpx"
	"github.com/louisbranch/eta/internal/services/eta/session"
	"github.com/louisbranch/eta/internal/services/eta/transform"
	"github.com/louisbranch/eta/internal/services/eta/view"
)

const (
	// LoginPath receives requests that need a logged-in user.
	LoginPath = "/login"
	// staticMaxAge is 30 days in seconds.
	staticMaxAge = 60 * 60 * 24 * 30
)

var tracer = otel.Tracer("github.com/louisbranch/eta/internal/services/eta/request")

// Env is the server state shared by requests.
type Env struct {
	Dev bool
	// StaticFile maps an mvc path to a static file.
	StaticFile func(mvcPath string) (string, bool)
	// ViewFile maps an mvc path to a view template.
	ViewFile     func(mvcPath string) (string, bool)
	Transformers []transform.Entry
	Renderer     *view.Renderer
	Errors       *view.ErrorPages
	LoginPath    string
}

// Handler processes one request.
type Handler struct {
	env        *Env
	c          *mvc.Context
	controller *mvc.Controller
	actionName string
	action     *mvc.Action
	pipeline   *transform.Pipeline
}

// New builds the handler for c. controller may be nil; an unknown action
// is served as a view.
func New(env *Env, c *mvc.Context, controller *mvc.Controller, actionName string) *Handler {
	h := &Handler{env: env, c: c, controller: controller, actionName: actionName}
	if controller != nil {
		h.action, _ = controller.Action(actionName)
	}
	return h
}

// Handle runs the pipeline.
func (h *Handler) Handle() {
	ctx, span := tracer.Start(h.c.Context(), "eta.request", trace.WithAttributes(
		attribute.String("http.method", h.c.Req.Method),
		attribute.String("eta.mvc_path", h.c.MvcPath),
	))
	defer span.End()
	h.c.Req = h.c.Req.WithContext(ctx)

	if h.checkStatic() {
		return
	}
	h.pipeline = transform.NewPipeline(h.c, h.env.Transformers)
	h.pipeline.Fire(transform.EventOnRequest, nil)
	if h.c.Res.Finished() {
		return
	}
	if h.action == nil {
		h.serveView()
		return
	}

	switch {
	case h.action.IsAuthRequired && !h.c.IsLoggedIn():
		h.redirectToLogin()
	case len(h.action.PermissionsRequired) > 0:
		if !h.pipeline.Fire(transform.EventIsRequestAuthorized, h.action.PermissionsRequired) {
			h.renderError(http.StatusForbidden)
			return
		}
		h.callController()
	default:
		h.callController()
	}
}

func (h *Handler) redirectToLogin() {
	h.c.Session.Set(session.KeyAuthFrom, h.c.MvcFullPath)
	if h.shouldSaveLastPage() {
		h.c.Session.Set(session.KeyLastPage, h.c.MvcFullPath)
	}
	h.saveSession()
	loginPath := h.env.LoginPath
	if loginPath == "" {
		loginPath = LoginPath
	}
	h.c.Redirect(loginPath)
}

func (h *Handler) callController() {
	if h.action.Method != h.c.Req.Method {
		h.serveView()
		return
	}
	params, err := DecodeParams(h.c.Req)
	if err != nil {
		h.logf("decode params", err)
		h.renderError(http.StatusBadRequest)
		return
	}

	// An action that answers on its own (a redirect, say) commits inside
	// invoke; the session goes out with those headers.
	if h.c.Req.Method == http.MethodGet {
		h.c.Res.BeforeCommit(func() {
			h.c.Session.Set(session.KeyLastPage, h.c.MvcFullPath)
			h.saveSession()
		})
	}
	err = h.invoke(params)
	h.c.Res.BeforeCommit(nil)
	if err != nil {
		h.logf("controller", err)
		status := apperrors.HTTPStatus(err)
		if status < http.StatusBadRequest {
			status = http.StatusInternalServerError
		}
		h.renderError(status)
		return
	}
	if h.c.Res.Finished() {
		return
	}
	if status := h.c.Res.Status(); status != http.StatusOK {
		h.renderError(status)
		return
	}
	if !h.action.UseView {
		h.sendRaw()
		return
	}
	h.serveView()
}

func (h *Handler) invoke(params mvc.Params) (err error) {
	ctx, span := tracer.Start(h.c.Context(), "eta.controller", trace.WithAttributes(
		attribute.String("eta.controller", h.controller.Name),
		attribute.String("eta.action", h.actionName),
	))
	req := h.c.Req
	defer func() {
		h.c.Req = req
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic in %s.%s: %v", h.controller.Name, h.actionName, recovered)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	h.c.Req = req.WithContext(ctx)
	if h.action.Handler == nil {
		return fmt.Errorf("action %s.%s has no handler", h.controller.Name, h.actionName)
	}
	return h.action.Handler(h.c, params)
}

func (h *Handler) sendRaw() {
	header := h.c.Res.Header()
	var body []byte
	switch raw := h.c.Res.Raw.(type) {
	case nil:
	case string:
		body = []byte(raw)
		setDefault(header, "Content-Type", "text/html; charset=utf-8")
	case []byte:
		body = raw
		setDefault(header, "Content-Type", "application/octet-stream")
	default:
		if err := httpx.WriteJSON(h.c.Res, h.c.Res.Status(), raw); err != nil {
			h.logf("send json response", err)
			h.renderError(http.StatusInternalServerError)
		}
		return
	}
	if err := h.c.Res.Send(body); err != nil {
		h.logf("send response", err)
	}
}

func setDefault(header http.Header, key, value string) {
	if header.Get(key) == "" {
		header.Set(key, value)
	}
}

func (h *Handler) serveView() {
	path, ok := h.viewFile()
	if !ok || !fileExists(path) {
		h.renderError(http.StatusNotFound)
		return
	}
	if h.pipeline != nil {
		h.pipeline.Fire(transform.EventBeforeResponse, nil)
	}
	if h.c.Res.Finished() {
		return
	}
	if h.env.Dev {
		h.c.Res.View["compileDebug"] = true
	}

	ctx, span := tracer.Start(h.c.Context(), "eta.render", trace.WithAttributes(attribute.String("eta.view", path)))
	html, err := h.env.Renderer.Render(ctx, path, h.c.Res.View)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		log.Printf("rendering %s failed request_id=%s: %v", path, h.c.RequestID(), err)
		h.renderError(http.StatusInternalServerError)
		return
	}

	if h.shouldSaveLastPage() {
		h.c.Session.Set(session.KeyLastPage, h.c.MvcFullPath)
		h.saveSession()
	}
	setDefault(h.c.Res.Header(), "Content-Type", "text/html; charset=utf-8")
	if err := h.c.Res.Send(html); err != nil {
		h.logf("send view", err)
	}
}

func (h *Handler) viewFile() (string, bool) {
	if h.env.ViewFile == nil {
		return "", false
	}
	return h.env.ViewFile(h.c.MvcPath)
}

// checkStatic serves the request when it maps to a static file.
func (h *Handler) checkStatic() bool {
	if h.env.StaticFile == nil {
		return false
	}
	path, ok := h.env.StaticFile(h.c.MvcPath)
	if !ok {
		return false
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("static file was deleted after the server started: %s", path)
		h.renderError(http.StatusNotFound)
		return true
	}
	if err != nil {
		log.Printf("warn: error reading %s: %v", path, err)
		h.renderError(http.StatusInternalServerError)
		return true
	}

	mimeType := httpx.StaticMimeType(h.c.MvcPath)
	header := h.c.Res.Header()
	if h.env.Dev {
		httpx.SetNoCache(header)
	} else if !httpx.IsScriptOrStyle(mimeType) {
		hash := crypto.GetUnique(data)
		header.Set("Cache-Control", fmt.Sprintf("max-age=%d", staticMaxAge))
		header.Set("ETag", hash)
		if h.c.Req.Header.Get("If-None-Match") == hash {
			h.c.Res.SetStatus(http.StatusNotModified)
			h.c.Res.End()
			return true
		}
	}
	header.Set("Content-Type", mimeType)
	if err := h.c.Res.Send(data); err != nil {
		h.logf("send static file", err)
	}
	return true
}

func (h *Handler) renderError(code int) {
	if h.c.Res.Finished() {
		return
	}
	if h.env.Errors == nil {
		if err := h.c.Res.SendStatus(code); err != nil {
			h.logf("send status", err)
		}
		return
	}
	h.env.Errors.Render(h.c.Res, h.c.Req, code)
}

func (h *Handler) shouldSaveLastPage() bool {
	return ShouldSaveLastPage(h.c.Req.Method, h.c.MvcPath)
}

// ShouldSaveLastPage reports whether a request is a page worth returning to
// after login.
func ShouldSaveLastPage(method, mvcPath string) bool {
	return method == http.MethodGet &&
		!strings.Contains(mvcPath, "/auth/") &&
		mvcPath != "/home/login" &&
		mvcPath != "/home/logout"
}

func (h *Handler) saveSession() {
	if err := h.c.SaveSession(); err != nil {
		h.logf("save session", err)
	}
}

func (h *Handler) logf(stage string, err error) {
	log.Printf("%s failed method=%s path=%s request_id=%s user_id=%s: %v",
		stage, h.c.Req.Method, h.c.MvcPath, h.c.RequestID(), requestctx.UserIDFromContext(h.c.Context()), err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
