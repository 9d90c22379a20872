package mvc

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// HandlerFunc runs an action with the decoded request parameters.
type HandlerFunc func(c *Context, params Params) error

// Params holds decoded query or body parameters.
type Params map[string]any

// String returns the parameter at key formatted as a string.
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// FlagScript names the script file that implements an action.
const FlagScript = "script"

var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Action describes one controller endpoint.
type Action struct {
	Name                string
	Method              string
	UseView             bool
	IsAuthRequired      bool
	PermissionsRequired []string
	Flags               map[string]any
	Handler             HandlerFunc
}

func (a *Action) normalize(name string) error {
	a.Name = strings.TrimSpace(name)
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if strings.Contains(a.Name, "/") {
		return fmt.Errorf("action %q: name must not contain /", a.Name)
	}
	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	if a.Method == "" {
		a.Method = http.MethodGet
	}
	if !slices.Contains(allowedMethods, a.Method) {
		return fmt.Errorf("action %q: unsupported method %q", a.Name, a.Method)
	}
	if a.Handler == nil {
		return fmt.Errorf("action %q: handler is required", a.Name)
	}
	if a.Flags == nil {
		a.Flags = map[string]any{}
	}
	return nil
}

// Flag returns the flag value at key formatted as a string.
func (a *Action) Flag(key string) string {
	if a == nil {
		return ""
	}
	v, ok := a.Flags[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
