// Package status is a module written in Go. It answers GET /status with the
// process uptime and stamps the request id into every rendered view.
//
// Go modules register at build time under the name of a module directory;
// the directory (modules/status/eta.json) still decides whether the module
// is enabled. Importing this package for its side effect registers it with
// the default registries.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	apperrors "github.com/louisbranch/eta/internal/services/eta/platform/errors"
	"github.com/louisbranch/eta/internal/services/eta/transform"
)

// Name is the module directory this package binds to.
const Name = "status"

func init() {
	if err := Register(mvc.DefaultRegistry(), lifecycle.DefaultRegistry(), transform.DefaultRegistry()); err != nil {
		panic(err)
	}
}

// Register adds the status controller, its lifecycle hook and the request
// id transformer to the given registries.
func Register(controllers *mvc.Registry, hooks *lifecycle.Registry, transformers *transform.Registry) error {
	clock := &uptime{now: time.Now}
	controller := mvc.NewController("status", "/status").
		Handle("index", mvc.Action{Handler: clock.report})
	if err := controllers.Register(Name, controller); err != nil {
		return err
	}
	if err := hooks.Register(Name, "uptime", clock); err != nil {
		return err
	}
	return transformers.Register(Name, "requestId", func(*mvc.Context) any { return requestID{} })
}

type uptime struct {
	mu      sync.RWMutex
	now     func() time.Time
	started time.Time
}

func (u *uptime) OnServerStart(context.Context, lifecycle.Host) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.started = u.now()
	return nil
}

func (u *uptime) OnServerStop(context.Context, lifecycle.Host) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.started = time.Time{}
	return nil
}

func (u *uptime) report(c *mvc.Context, _ mvc.Params) error {
	u.mu.RLock()
	started := u.started
	u.mu.RUnlock()
	if started.IsZero() {
		return apperrors.E(apperrors.KindUnavailable, "server is not started")
	}
	c.Res.Raw = map[string]any{
		"status":    "ok",
		"since":     started.UTC().Format(time.RFC3339),
		"uptime":    u.now().Sub(started).Round(time.Second).String(),
		"requestId": c.RequestID(),
	}
	return nil
}

type requestID struct{}

func (requestID) BeforeResponse(c *mvc.Context) error {
	if _, set := c.Res.View["requestId"]; !set {
		c.SetView("requestId", c.RequestID())
	}
	return nil
}
