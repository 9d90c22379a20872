// Package lifecycle dispatches application lifecycle events to module
// handlers.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/louisbranch/eta/internal/services/eta/config"
)

// Event names a lifecycle hook.
type Event string

const (
	EventAppStart        Event = "onAppStart"
	EventServerStart     Event = "onServerStart"
	EventDatabaseConnect Event = "onDatabaseConnect"
	EventServerStop      Event = "onServerStop"
)

// Events lists every event in firing order.
var Events = []Event{EventAppStart, EventDatabaseConnect, EventServerStart, EventServerStop}

// Host is what handlers see of the running application.
type Host interface {
	DB() *sql.DB
	Config() *config.Configuration
}

// Hook types; a handler implements any subset.
type (
	AppStarter interface {
		OnAppStart(ctx context.Context, host Host) error
	}
	ServerStarter interface {
		OnServerStart(ctx context.Context, host Host) error
	}
	DatabaseConnector interface {
		OnDatabaseConnect(ctx context.Context, host Host) error
	}
	ServerStopper interface {
		OnServerStop(ctx context.Context, host Host) error
	}
)

// Handler pairs a hook value with where it came from.
type Handler struct {
	Name   string
	Module string
	Value  any
}

// Fire runs event on every handler that implements it. Failures are logged
// and do not stop the remaining handlers; the joined error is returned.
func Fire(ctx context.Context, event Event, host Host, handlers []Handler) error {
	var errs []error
	for _, h := range handlers {
		if err := fire(ctx, event, host, h.Value); err != nil {
			log.Printf("lifecycle %s failed module=%s handler=%s: %v", event, h.Module, h.Name, err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", h.Module, h.Name, err))
		}
	}
	return errors.Join(errs...)
}

func fire(ctx context.Context, event Event, host Host, value any) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	switch event {
	case EventAppStart:
		if h, ok := value.(AppStarter); ok {
			return h.OnAppStart(ctx, host)
		}
	case EventServerStart:
		if h, ok := value.(ServerStarter); ok {
			return h.OnServerStart(ctx, host)
		}
	case EventDatabaseConnect:
		if h, ok := value.(DatabaseConnector); ok {
			return h.OnDatabaseConnect(ctx, host)
		}
	case EventServerStop:
		if h, ok := value.(ServerStopper); ok {
			return h.OnServerStop(ctx, host)
		}
	default:
		return fmt.Errorf("unknown lifecycle event %q", event)
	}
	return nil
}

// Registry holds handlers compiled into the binary, per module.
type Registry struct {
	mu       sync.RWMutex
	byModule map[string][]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byModule: map[string][]Handler{}}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used by Register.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds value to the default registry.
func Register(module, name string, value any) error {
	return defaultRegistry.Register(module, name, value)
}

// Register adds value under module.
func (r *Registry) Register(module, name string, value any) error {
	module = strings.TrimSpace(module)
	name = strings.TrimSpace(name)
	if module == "" || name == "" {
		return errors.New("module and handler name are required")
	}
	if !implementsAny(value) {
		return fmt.Errorf("lifecycle handler %s implements no hook", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModule[module] = append(r.byModule[module], Handler{Name: name, Module: module, Value: value})
	return nil
}

// Handlers returns the handlers registered under module.
func (r *Registry) Handlers(module string) []Handler {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handler(nil), r.byModule[module]...)
}

func implementsAny(value any) bool {
	switch value.(type) {
	case AppStarter, ServerStarter, DatabaseConnector, ServerStopper:
		return true
	}
	return false
}
