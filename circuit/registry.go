// Package circuit implements a per-route circuit breaker: action.Proxy
// consults a Registry for the matched host before running its attempt loop,
// and reports the outcome back so repeatedly broken routes stop retrying
// and fast-fail to a static response instead.
package circuit

import "time"

// DefaultIdleTTL is the idle duration after which a Registry recycles a
// breaker nobody has asked for in a while.
const DefaultIdleTTL = time.Hour

// Options configures a Registry: Defaults apply to any route without a more
// specific entry in HostSettings, keyed by matched host.
type Options struct {
	Defaults     BreakerSettings
	HostSettings []BreakerSettings
	IdleTTL      time.Duration
}

// Registry hands out per-route Breakers, creating them on demand and
// recycling ones that have gone idle.
type Registry struct {
	defaults     BreakerSettings
	hostSettings map[string]BreakerSettings
	idleTTL      time.Duration
	lookup       map[BreakerSettings]*Breaker
	access       *list
	sync         chan *Registry
}

// NewRegistry returns a Registry configured with o. A zero IdleTTL falls
// back to DefaultIdleTTL.
func NewRegistry(o Options) *Registry {
	hs := make(map[string]BreakerSettings)
	for _, s := range o.HostSettings {
		hs[s.Host] = applySettings(s, o.Defaults)
	}

	if o.IdleTTL <= 0 {
		o.IdleTTL = DefaultIdleTTL
	}

	r := &Registry{
		defaults:     o.Defaults,
		hostSettings: hs,
		idleTTL:      o.IdleTTL,
		lookup:       make(map[BreakerSettings]*Breaker),
		access:       &list{},
		sync:         make(chan *Registry, 1),
	}

	r.sync <- r
	return r
}

func (r *Registry) synced(f func()) {
	r = <-r.sync
	f()
	r.sync <- r
}

func (r *Registry) applySettings(s BreakerSettings) BreakerSettings {
	config, ok := r.hostSettings[s.Host]
	if !ok {
		config = r.defaults
	}

	return applySettings(s, config)
}

func (r *Registry) dropLookup(b *Breaker) {
	for b != nil {
		delete(r.lookup, b.settings)
		b = b.next
	}
}

// Get returns the Breaker for s, creating it on first request for that
// exact settings tuple. It returns nil when the route has no host to key
// on or the resolved settings disable breaking entirely, in which case the
// caller (action.Proxy) should skip the breaker check and run normally.
func (r *Registry) Get(s BreakerSettings) *Breaker {
	// a breaker without a matched host would be shared across unrelated
	// routes, which defeats the point of per-route isolation
	if s.Disabled || s.Host == "" {
		return nil
	}

	// layer host-specific, then global, defaults under whatever the caller set
	s = r.applySettings(s)
	if s.Type == BreakerNone {
		return nil
	}

	var b *Breaker
	r.synced(func() {
		now := time.Now()

		// a breaker's own IdleTTL wins; without one the registry's applies
		idle := func(b *Breaker) bool {
			ttl := b.settings.IdleTTL
			if ttl <= 0 {
				ttl = r.idleTTL
			}
			return now.Sub(b.ts) > ttl
		}

		var ok bool
		b, ok = r.lookup[s]
		if !ok || idle(b) {
			// no live breaker exists for this exact settings tuple: drop
			// the idle one if any, evict anything else idle past its TTL,
			// then create a fresh one

			r.access.remove(b, b)
			drop, _ := r.access.dropHeadIf(idle)

			r.dropLookup(drop)
			b = newBreaker(s)
			r.lookup[s] = b
		}

		// move the breaker to the tail of the access-order list
		b.ts = now
		r.access.appendLast(b)
	})

	return b
}
