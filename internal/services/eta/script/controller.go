package script

import (
	"fmt"
	"sort"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/eta/internal/services/eta/mvc"
)

// LoadController loads a controller script. The script returns a table:
//
//	return {
//	  name = "posts",
//	  routes = { "/posts", "/blog/:slug" },
//	  actions = {
//	    index = { useView = true, handler = function(ctx, params) ctx:view("title", "Posts") end },
//	    ping = function(ctx) ctx:raw("pong") end,
//	  },
//	}
//
// route may replace routes; name defaults to the file name.
func LoadController(path string) (*mvc.Controller, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return s.Controller()
}

type actionDef struct {
	name   string
	direct bool
	fields map[string]any
}

// Controller builds the controller described by the script exports.
func (s *Script) Controller() (*mvc.Controller, error) {
	name, _ := s.Export("name").(string)
	if name == "" {
		name = s.Name()
	}
	routes := stringList(s.Export("routes"))
	if len(routes) == 0 {
		routes = stringList(s.Export("route"))
	}
	c := &mvc.Controller{Name: name, Source: s.path, Actions: map[string]*mvc.Action{}}
	for _, raw := range routes {
		route, err := mvc.ParseRoute(raw)
		if err != nil {
			return nil, fmt.Errorf("controller %s: %w", s.path, err)
		}
		c.Routes = append(c.Routes, route)
	}

	defs, err := s.actionDefs()
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		action := mvc.Action{Handler: s.actionHandler(def)}
		if !def.direct {
			action.Method, _ = def.fields["method"].(string)
			action.UseView, _ = def.fields["useView"].(bool)
			action.IsAuthRequired, _ = def.fields["auth"].(bool)
			action.PermissionsRequired = stringList(def.fields["permissions"])
			action.Flags, _ = def.fields["flags"].(map[string]any)
		}
		if err := c.AddAction(def.name, action); err != nil {
			return nil, fmt.Errorf("controller %s: %w", s.path, err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return c, nil
}

func (s *Script) actionDefs() ([]actionDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	top := s.state.Top()
	defer s.state.SetTop(top)

	s.pushExport("actions")
	switch s.state.TypeOf(-1) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeTable:
	default:
		return nil, fmt.Errorf("controller %s: actions must be a table", s.path)
	}

	var defs []actionDef
	index := s.state.AbsIndex(-1)
	s.state.PushNil()
	for s.state.Next(index) {
		if s.state.TypeOf(-2) != lua.TypeString {
			s.state.Pop(1)
			continue
		}
		key, _ := s.state.ToString(-2)
		switch s.state.TypeOf(-1) {
		case lua.TypeFunction:
			defs = append(defs, actionDef{name: key, direct: true})
		case lua.TypeTable:
			s.state.Field(-1, "handler")
			hasHandler := s.state.IsFunction(-1)
			s.state.Pop(1)
			if !hasHandler {
				return nil, fmt.Errorf("controller %s: action %s has no handler", s.path, key)
			}
			defs = append(defs, actionDef{name: key, fields: tableToMap(s.state, -1)})
		default:
			return nil, fmt.Errorf("controller %s: action %s must be a function or table", s.path, key)
		}
		s.state.Pop(1)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].name < defs[j].name })
	return defs, nil
}

// actionHandler calls the Lua handler with the request context and params.
// A non-nil return value becomes the raw response unless the handler
// already set one.
func (s *Script) actionHandler(def actionDef) mvc.HandlerFunc {
	keys := []string{"actions", def.name}
	if !def.direct {
		keys = append(keys, "handler")
	}
	return func(c *mvc.Context, params mvc.Params) error {
		result, err := s.call(keys, func(state *lua.State) int {
			pushContext(state, c)
			pushValue(state, params)
			return 2
		})
		if err != nil {
			return err
		}
		if result != nil && c.Res.Raw == nil {
			c.Res.Raw = result
		}
		return nil
	}
}
