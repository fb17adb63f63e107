package circuit

import "github.com/sony/gobreaker"

// consecutiveBreaker opens after s.Failures consecutive failed outcomes on
// a route, and half-opens after s.Timeout to let s.HalfOpenRequests probe
// requests through before deciding whether to close again.
type consecutiveBreaker struct {
	gb *gobreaker.TwoStepCircuitBreaker
}

func newConsecutive(s BreakerSettings) *consecutiveBreaker {
	return &consecutiveBreaker{
		gb: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        s.Host,
			MaxRequests: uint32(s.HalfOpenRequests),
			Timeout:     s.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return int(c.ConsecutiveFailures) >= s.Failures
			},
		}),
	}
}

func (b *consecutiveBreaker) Allow() (func(bool), bool) {
	done, err := b.gb.Allow()

	// the only error gobreaker returns here means the breaker is open
	if err != nil {
		return nil, false
	}

	return done, true
}
