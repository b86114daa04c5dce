package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"gateway/internal/models"
	"gateway/internal/ratelimit"
)

// DefaultRoutePrefix is prepended to a service name to form its default route.
const DefaultRoutePrefix = "/api/v1/"

// DefaultScope is the rate limit scope shared by default routes.
const DefaultScope = "api"

// ServiceTable maps service names to base addresses. It is built once and
// never modified.
type ServiceTable struct {
	services map[string]*url.URL
}

func NewServiceTable(services map[string]string) (*ServiceTable, error) {
	t := &ServiceTable{services: make(map[string]*url.URL, len(services))}
	for name, base := range services {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("service %s: base address must be absolute, got %q", name, base)
		}
		t.services[name] = u
	}
	return t, nil
}

func (t *ServiceTable) Lookup(name string) (*url.URL, bool) {
	u, ok := t.services[name]
	return u, ok
}

// Names returns the service names in sorted order.
func (t *ServiceTable) Names() []string {
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route binds a path prefix to a downstream service.
type Route struct {
	Name    string
	Prefix  string
	Service string
	// Public routes bypass the authentication gate.
	Public bool
	Policy ratelimit.Policy
	// StripPrefix removes Prefix from the path sent downstream.
	StripPrefix bool
}

// matches reports whether path falls under the route's prefix on a segment
// boundary.
func (rt Route) matches(path string) bool {
	if !strings.HasPrefix(path, rt.Prefix) {
		return false
	}
	return len(path) == len(rt.Prefix) ||
		strings.HasSuffix(rt.Prefix, "/") ||
		path[len(rt.Prefix)] == '/'
}

// RouteTable resolves request paths by longest matching prefix.
type RouteTable struct {
	routes []Route
}

func NewRouteTable(routes []Route) (*RouteTable, error) {
	seen := make(map[string]bool, len(routes))
	sorted := make([]Route, 0, len(routes))
	for _, rt := range routes {
		if rt.Name == "" || rt.Prefix == "" {
			return nil, errors.New("route name and prefix are required")
		}
		if seen[rt.Name] {
			return nil, fmt.Errorf("duplicate route name %s", rt.Name)
		}
		seen[rt.Name] = true
		sorted = append(sorted, rt)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{routes: sorted}, nil
}

func (t *RouteTable) Match(path string) (Route, bool) {
	for _, rt := range t.routes {
		if rt.matches(path) {
			return rt, true
		}
	}
	return Route{}, false
}

func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// RoutesFromConfig returns one protected default route per service plus the
// configured routes. A configured route replaces a default route with the
// same prefix. Unset limits fall back to the global rate limit settings.
func RoutesFromConfig(cfg *models.Config) []Route {
	rl := cfg.RateLimit
	policy := func(scope string, window time.Duration, limit int, roles map[string]int) ratelimit.Policy {
		if window <= 0 {
			window = rl.Window
		}
		if limit <= 0 {
			limit = rl.MaxRequests
		}
		if len(roles) == 0 {
			roles = rl.RoleLimits
		}
		return ratelimit.Policy{
			Scope:          scope,
			Limit:          ratelimit.RoleLimit(limit, roles),
			Window:         window,
			SkipSuccessful: rl.SkipSuccessful,
		}
	}

	configured := make(map[string]bool, len(cfg.Routes))
	taken := make(map[string]bool, len(cfg.Routes))
	var routes []Route
	for _, rc := range cfg.Routes {
		taken[rc.Name] = true
		scope := rc.Scope
		if scope == "" {
			scope = rc.Name
		}
		configured[rc.Prefix] = true
		routes = append(routes, Route{
			Name:        rc.Name,
			Prefix:      rc.Prefix,
			Service:     rc.Service,
			Public:      rc.Public,
			Policy:      policy(scope, rc.Window, rc.MaxRequests, rc.RoleLimits),
			StripPrefix: rc.StripPrefix,
		})
	}

	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prefix := DefaultRoutePrefix + name
		if configured[prefix] {
			continue
		}
		routeName := name
		if taken[routeName] {
			routeName = "default-" + name
		}
		routes = append(routes, Route{
			Name:    routeName,
			Prefix:  prefix,
			Service: name,
			Policy:  policy(DefaultScope, 0, 0, nil),
		})
	}
	return routes
}
