// Package routing implements the host routing table: a live,
// subdomain-aware mapping from host name to a Route, mutable at runtime
// and consulted on every connection.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mantrid-go/mantridproxy/backend"
)

// Kind identifies which action family a Route dispatches to.
type Kind string

const (
	KindProxy    Kind = "proxy"
	KindStatic   Kind = "static"
	KindEmpty    Kind = "empty"
	KindRedirect Kind = "redirect"
	KindSpin     Kind = "spin"
	KindAlias    Kind = "alias"
	KindUnknown  Kind = "unknown"
	KindNoHosts  Kind = "no_hosts"
)

// ErrMirrorNotImplemented is returned by ParseKind for the literal action
// kind "mirror": mantrid's mirror action (fire-and-forget duplicate of a
// request to a second backend) has no Go implementation in this spec, so
// a persisted or PUT-submitted route naming it is rejected explicitly
// rather than silently falling through to Unknown.
var ErrMirrorNotImplemented = errors.New("routing: mirror action is not implemented")

// ParseKind validates a route kind string read from persisted state or the
// management API, rejecting both unknown strings and the recognized but
// unimplemented "mirror" kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindProxy, KindStatic, KindEmpty, KindRedirect, KindSpin, KindAlias, KindUnknown, KindNoHosts:
		return Kind(s), nil
	case "mirror":
		return "", ErrMirrorNotImplemented
	default:
		return "", fmt.Errorf("routing: unknown action kind %q", s)
	}
}

// Params is the kind-specific parameter bag for a Route. Only the fields
// relevant to Kind are meaningful; the rest are zero.
type Params struct {
	// proxy
	Backends    []*backend.Backend
	Algorithm   string
	Healthcheck *bool // nil means "not explicitly set"; default true
	Attempts    int
	Delay       float64

	// static / unknown / no_hosts
	Type string

	// redirect
	RedirectTo string

	// empty
	Code int

	// alias
	Hostname string

	// spin
	Timeout       int
	CheckInterval int
}

// HealthcheckEnabled reports whether this route's backends should be
// health-checked, defaulting to true when unset.
func (p Params) HealthcheckEnabled() bool {
	return p.Healthcheck == nil || *p.Healthcheck
}

// Route is a (action_kind, params, allow_subdomains) triple.
type Route struct {
	Kind            Kind
	Params          Params
	AllowSubdomains bool
}

// Table is the host routing table. The zero value is ready to use.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{routes: map[string]Route{}}
}

// Get returns the route registered under host, if any.
func (t *Table) Get(host string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[host]
	return r, ok
}

// Set installs route under host. If a prior route occupied that key, its
// backends are retired (health checks stop once their current probe cycle
// observes the retired flag). If the new route is a Proxy route with
// health-checking enabled, a health prober starts for each of its backends
// that is already blacklisted; healthy backends get one once they fail.
func (t *Table) Set(ctx context.Context, host string, route Route) {
	t.mu.Lock()
	if t.routes == nil {
		t.routes = map[string]Route{}
	}
	prior, hadPrior := t.routes[host]
	t.routes[host] = route
	t.mu.Unlock()

	if hadPrior {
		retireBackends(prior)
	}
	if route.Kind == KindProxy && route.Params.HealthcheckEnabled() {
		for _, b := range route.Params.Backends {
			b.EnsureHealthCheck(ctx)
		}
	}
}

// Delete removes the route registered under host, retiring its backends.
func (t *Table) Delete(host string) {
	t.mu.Lock()
	prior, hadPrior := t.routes[host]
	delete(t.routes, host)
	t.mu.Unlock()

	if hadPrior {
		retireBackends(prior)
	}
}

// Snapshot returns a shallow copy of the full host→Route map, for
// persistence or the management dump endpoint. Mutating the returned map
// does not affect the table.
func (t *Table) Snapshot() map[string]Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Route, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

// Len reports the number of installed routes.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

func retireBackends(r Route) {
	if r.Kind != KindProxy {
		return
	}
	for _, b := range r.Params.Backends {
		b.Retire()
	}
}

// Resolve implements the subdomain-aware resolution algorithm: given
// fullHost = a.b.c.d, for i = 0..len(parts)-1 build candidate =
// parts[i:].join("."); for each prefix in {protocol + "://", ""}, probe
// prefix+candidate. The first hit whose route allows subdomains, or whose
// hit is at i == 0 (exact match), wins. Protocol-qualified keys are probed
// before bare keys at the same depth, and longer candidates (smaller i)
// before shorter ones, so "most specific wins, exact overrides wildcard".
//
// Returns the winning Route and the matched host key (the table key that
// won, used as the stats partition key), or ok == false if nothing matched
// (including when the table is empty, in which case callers should treat it
// as KindNoHosts rather than KindUnknown — see IsEmpty and Resolve callers).
func (t *Table) Resolve(fullHost, protocol string) (route Route, matchedHost string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.routes) == 0 {
		return Route{}, "", false
	}

	parts := strings.Split(fullHost, ".")
	for i := 0; i < len(parts); i++ {
		candidate := strings.Join(parts[i:], ".")
		for _, prefix := range []string{protocol + "://", ""} {
			key := prefix + candidate
			r, found := t.routes[key]
			if !found {
				continue
			}
			if r.AllowSubdomains || i == 0 {
				return r, key, true
			}
		}
	}
	return Route{}, "", false
}

// IsEmpty reports whether the table currently holds no routes, the
// condition under which Resolve should be treated as NoHosts rather than
// Unknown by the caller.
func (t *Table) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes) == 0
}
