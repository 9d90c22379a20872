package mvc

import (
	"fmt"
	"regexp"
	"strings"
)

var paramNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Route is a controller mount point. Segments starting with ":" capture one
// path segment, so "/post/:id" matches "/post/42".
type Route struct {
	raw     string
	key     string
	pattern *regexp.Regexp
	params  []string
}

// NormalizeRoute trims whitespace and trailing slashes and ensures a leading
// slash. The site root "/" normalizes to "".
func NormalizeRoute(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}

// ParseRoute compiles raw.
func ParseRoute(raw string) (Route, error) {
	key := NormalizeRoute(raw)
	route := Route{raw: raw, key: key}
	if !strings.Contains(key, "/:") {
		return route, nil
	}

	segments := strings.Split(key, "/")
	var expr strings.Builder
	expr.WriteString("^")
	for _, segment := range segments[1:] {
		expr.WriteString("/")
		if !strings.HasPrefix(segment, ":") {
			expr.WriteString(regexp.QuoteMeta(segment))
			continue
		}
		name := segment[1:]
		if !paramNamePattern.MatchString(name) {
			return Route{}, fmt.Errorf("route %q: invalid param name %q", raw, name)
		}
		for _, existing := range route.params {
			if existing == name {
				return Route{}, fmt.Errorf("route %q: duplicate param %q", raw, name)
			}
		}
		route.params = append(route.params, name)
		expr.WriteString("([^/]+)")
	}
	expr.WriteString("$")
	pattern, err := regexp.Compile(expr.String())
	if err != nil {
		return Route{}, fmt.Errorf("route %q: %w", raw, err)
	}
	route.pattern = pattern
	return route, nil
}

// MustParseRoute is ParseRoute for routes fixed at build time.
func MustParseRoute(raw string) Route {
	route, err := ParseRoute(raw)
	if err != nil {
		panic(err)
	}
	return route
}

// Raw returns the route as written.
func (r Route) Raw() string { return r.raw }

// Key returns the normalized route used for plain lookups.
func (r Route) Key() string { return r.key }

// IsParam reports whether the route captures segments.
func (r Route) IsParam() bool { return r.pattern != nil }

// Params returns the capture names in order.
func (r Route) Params() []string { return append([]string(nil), r.params...) }

// Match reports whether path (a route part, no action) matches and returns
// the captured params.
func (r Route) Match(path string) (map[string]string, bool) {
	path = NormalizeRoute(path)
	if r.pattern == nil {
		if path == r.key {
			return map[string]string{}, true
		}
		return nil, false
	}
	groups := r.pattern.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(r.params))
	for i, name := range r.params {
		params[name] = groups[i+1]
	}
	return params, true
}

func (r Route) String() string {
	if r.key == "" {
		return "/"
	}
	return r.key
}

// SplitPath splits an mvc path into its route and action parts at the last
// slash: "/post/42/edit" yields "/post/42" and "edit".
func SplitPath(mvcPath string) (route, action string) {
	idx := strings.LastIndex(mvcPath, "/")
	if idx < 0 {
		return "", mvcPath
	}
	return NormalizeRoute(mvcPath[:idx]), mvcPath[idx+1:]
}
