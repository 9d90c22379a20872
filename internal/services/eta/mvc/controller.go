// Package mvc defines the controller contract: routes, actions, the
// per-request Context and the buffered Response handed to actions.
package mvc

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
)

// Controller groups actions mounted under one or more routes.
type Controller struct {
	Name    string
	Module  string
	Source  string
	Routes  []Route
	Actions map[string]*Action
}

// NewController builds a controller mounted at routes. It panics on a
// malformed route, matching regexp.MustCompile for build-time values.
func NewController(name string, routes ...string) *Controller {
	c := &Controller{Name: name, Actions: map[string]*Action{}}
	for _, raw := range routes {
		c.Routes = append(c.Routes, MustParseRoute(raw))
	}
	return c
}

// Handle registers action under name. It panics on an invalid action.
func (c *Controller) Handle(name string, action Action) *Controller {
	if err := c.AddAction(name, action); err != nil {
		panic(err)
	}
	return c
}

// AddAction registers action under name.
func (c *Controller) AddAction(name string, action Action) error {
	if err := action.normalize(name); err != nil {
		return fmt.Errorf("controller %s: %w", c.Name, err)
	}
	if c.Actions == nil {
		c.Actions = map[string]*Action{}
	}
	if _, exists := c.Actions[action.Name]; exists {
		return fmt.Errorf("controller %s: duplicate action %q", c.Name, action.Name)
	}
	c.Actions[action.Name] = &action
	return nil
}

// Action returns the action named name.
func (c *Controller) Action(name string) (*Action, bool) {
	if c == nil {
		return nil, false
	}
	action, ok := c.Actions[name]
	return action, ok
}

// ActionNames returns the sorted action names.
func (c *Controller) ActionNames() []string {
	names := make([]string, 0, len(c.Actions))
	for name := range c.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the controller is routable.
func (c *Controller) Validate() error {
	if c == nil {
		return errors.New("controller is nil")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("controller name is required")
	}
	if len(c.Routes) == 0 {
		return fmt.Errorf("controller %s: at least one route is required", c.Name)
	}
	if len(c.Actions) == 0 {
		return fmt.Errorf("controller %s: at least one action is required", c.Name)
	}
	return nil
}

// Clone returns a shallow copy with its own action map, so loaders can
// stamp module and source without touching the registered value.
func (c *Controller) Clone() *Controller {
	clone := *c
	clone.Routes = append([]Route(nil), c.Routes...)
	clone.Actions = make(map[string]*Action, len(c.Actions))
	for name, action := range c.Actions {
		copied := *action
		copied.Flags = maps.Clone(action.Flags)
		copied.PermissionsRequired = append([]string(nil), action.PermissionsRequired...)
		clone.Actions[name] = &copied
	}
	return &clone
}

// Match returns the params when any route matches routePath.
func (c *Controller) Match(routePath string) (map[string]string, bool) {
	for _, route := range c.Routes {
		if params, ok := route.Match(routePath); ok {
			return params, true
		}
	}
	return nil, false
}

// Registry holds controllers compiled into the binary, per module.
type Registry struct {
	mu       sync.RWMutex
	byModule map[string][]*Controller
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byModule: map[string][]*Controller{}}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by Register.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds c to the default registry under module.
func Register(module string, c *Controller) error {
	return defaultRegistry.Register(module, c)
}

// Register adds c under module.
func (r *Registry) Register(module string, c *Controller) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return errors.New("module name is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byModule[module] {
		if existing.Name == c.Name {
			return fmt.Errorf("module %s: controller %s already registered", module, c.Name)
		}
	}
	r.byModule[module] = append(r.byModule[module], c)
	return nil
}

// Controllers returns copies of the controllers registered under module.
func (r *Registry) Controllers(module string) []*Controller {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.byModule[module]
	out := make([]*Controller, 0, len(registered))
	for _, c := range registered {
		out = append(out, c.Clone())
	}
	return out
}
