// Package transform runs request transformers: per-request hooks that may
// short-circuit a request, veto authorization, or decorate a view before it
// is rendered.
package transform

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

// Event names a transformer hook.
type Event string

const (
	EventOnRequest           Event = "onRequest"
	EventIsRequestAuthorized Event = "isRequestAuthorized"
	EventBeforeResponse      Event = "beforeResponse"
)

// RequestHook runs before routing to a controller or view.
type RequestHook interface {
	OnRequest(c *mvc.Context) error
}

// AuthorizationHook decides whether the request holds permissions.
type AuthorizationHook interface {
	IsRequestAuthorized(c *mvc.Context, permissions []string) (bool, error)
}

// ResponseHook runs before a view is rendered.
type ResponseHook interface {
	BeforeResponse(c *mvc.Context) error
}

// Factory builds a transformer for one request. The value implements any
// subset of the hook interfaces.
type Factory func(c *mvc.Context) any

// Entry is a named factory.
type Entry struct {
	Name    string
	Module  string
	Factory Factory
}

// Pipeline is the set of transformers instantiated for one request.
type Pipeline struct {
	ctx   *mvc.Context
	names []string
	items []any
}

// NewPipeline instantiates entries for c, in order.
func NewPipeline(c *mvc.Context, entries []Entry) *Pipeline {
	p := &Pipeline{ctx: c}
	for _, entry := range entries {
		if entry.Factory == nil {
			continue
		}
		item := entry.Factory(c)
		if item == nil {
			continue
		}
		p.names = append(p.names, entry.Name)
		p.items = append(p.items, item)
	}
	return p
}

// Len returns the number of transformers.
func (p *Pipeline) Len() int { return len(p.items) }

// Fire runs event on every transformer that implements it. All of them run;
// the result is false when any returns false or an error. Errors are logged.
func (p *Pipeline) Fire(event Event, permissions []string) bool {
	result := true
	for i, item := range p.items {
		ok, err := fire(p.ctx, item, event, permissions)
		if err != nil {
			log.Printf("transformer %s %s failed path=%s request_id=%s: %v",
				p.names[i], event, p.ctx.MvcPath, p.ctx.RequestID(), err)
			result = false
			continue
		}
		if !ok {
			result = false
		}
	}
	return result
}

func fire(c *mvc.Context, item any, event Event, permissions []string) (ok bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok, err = false, fmt.Errorf("panic: %v", recovered)
		}
	}()
	switch event {
	case EventOnRequest:
		if hook, is := item.(RequestHook); is {
			return true, hook.OnRequest(c)
		}
	case EventIsRequestAuthorized:
		if hook, is := item.(AuthorizationHook); is {
			return hook.IsRequestAuthorized(c, permissions)
		}
	case EventBeforeResponse:
		if hook, is := item.(ResponseHook); is {
			return true, hook.BeforeResponse(c)
		}
	default:
		return false, fmt.Errorf("unknown transform event %q", event)
	}
	return true, nil
}

// Registry holds transformer factories compiled into the binary, per module.
type Registry struct {
	mu       sync.RWMutex
	byModule map[string][]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byModule: map[string][]Entry{}}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used by Register.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds a factory to the default registry.
func Register(module, name string, factory Factory) error {
	return defaultRegistry.Register(module, name, factory)
}

// Register adds a factory under module.
func (r *Registry) Register(module, name string, factory Factory) error {
	module = strings.TrimSpace(module)
	name = strings.TrimSpace(name)
	if module == "" || name == "" {
		return errors.New("module and transformer name are required")
	}
	if factory == nil {
		return fmt.Errorf("transformer %s: factory is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byModule[module] {
		if existing.Name == name {
			return fmt.Errorf("module %s: transformer %s already registered", module, name)
		}
	}
	r.byModule[module] = append(r.byModule[module], Entry{Name: name, Module: module, Factory: factory})
	return nil
}

// Entries returns the factories registered under module, in order.
func (r *Registry) Entries(module string) []Entry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.byModule[module]...)
}
