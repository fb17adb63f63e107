package circuit

import "time"

// BreakerType selects which algorithm a Breaker runs.
type BreakerType int

const (
	BreakerNone BreakerType = iota
	ConsecutiveFailures
)

// BreakerSettings configures the breaker guarding one matched host's Proxy
// route. Host identifies the route the settings apply to; leaving it empty
// means "the registry defaults". Disabled overrides Type, forcing the route
// to run without any breaker regardless of what the defaults say.
type BreakerSettings struct {
	Type             BreakerType
	Host             string
	Failures         int
	Timeout          time.Duration
	HalfOpenRequests int
	Disabled         bool
	IdleTTL          time.Duration
}

type breakerImplementation interface {
	Allow() (func(bool), bool)
}

// voidBreaker never trips; it backs routes with no breaker configured.
type voidBreaker struct{}

// Breaker is the per-route circuit breaker returned by Registry.Get. It
// also doubles as a node in the registry's idle-eviction list.
type Breaker struct {
	settings   BreakerSettings
	ts         time.Time
	prev, next *Breaker
	impl       breakerImplementation
}

// mergeSettings fills zero fields in "to" from "from", letting a route's own
// settings fall back to the registry's per-host, then global, defaults.
func (to BreakerSettings) mergeSettings(from BreakerSettings) BreakerSettings {
	if to.Type == BreakerNone {
		to.Type = from.Type
		if from.Type == ConsecutiveFailures {
			to.Failures = from.Failures
		}
	}

	if to.Timeout == 0 {
		to.Timeout = from.Timeout
	}

	if to.HalfOpenRequests == 0 {
		to.HalfOpenRequests = from.HalfOpenRequests
	}

	if to.IdleTTL == 0 {
		to.IdleTTL = from.IdleTTL
	}

	return to
}

// applySettings layers s on top of defaults, filling anything s left zero.
func applySettings(s, defaults BreakerSettings) BreakerSettings {
	return s.mergeSettings(defaults)
}

func (voidBreaker) Allow() (func(bool), bool) {
	return func(bool) {}, true
}

func newBreaker(s BreakerSettings) *Breaker {
	var impl breakerImplementation
	switch s.Type {
	case ConsecutiveFailures:
		impl = newConsecutive(s)
	default:
		impl = voidBreaker{}
	}

	return &Breaker{
		settings: s,
		impl:     impl,
	}
}

// Allow reports whether a request may proceed. When it may, the returned
// func must be called exactly once with the outcome (true for success,
// false for a failed connect or a NoHealthyBackends result) so the breaker
// can track consecutive failures.
func (b *Breaker) Allow() (func(bool), bool) {
	return b.impl.Allow()
}
