package ratelimit

import (
	"net/http"
	"time"

	"gateway/internal/auth"
)

// LimitFunc returns the request ceiling for r. It is evaluated on every
// request so limits can depend on the caller.
type LimitFunc func(r *http.Request) int

// FixedLimit applies the same ceiling to every caller.
func FixedLimit(n int) LimitFunc {
	return func(*http.Request) int { return n }
}

// RoleLimit uses the ceiling configured for the caller's role, or base for
// anonymous callers and roles without an entry.
func RoleLimit(base int, roles map[string]int) LimitFunc {
	if len(roles) == 0 {
		return FixedLimit(base)
	}
	return func(r *http.Request) int {
		if id, ok := auth.IdentityFromContext(r.Context()); ok {
			if n, found := roles[id.Role]; found {
				return n
			}
		}
		return base
	}
}

// Policy is the rate limit applied to one route.
type Policy struct {
	Scope  string
	Limit  LimitFunc
	Window time.Duration
	// KeyFunc overrides the caller identifier. Empty results fall back to
	// the default key.
	KeyFunc        func(r *http.Request) string
	SkipSuccessful bool
}

// Key returns the bucket for r: KeyFunc if set, else the authenticated
// subject, else the client IP, always prefixed by the scope.
func (p Policy) Key(r *http.Request) Key {
	if p.KeyFunc != nil {
		if k := p.KeyFunc(r); k != "" {
			return NewKey(p.Scope, k)
		}
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return NewKey(p.Scope, "user:"+id.Subject)
	}
	return NewKey(p.Scope, "ip:"+auth.ClientIP(r))
}
