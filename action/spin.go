package action

import (
	"context"
	"time"

	"github.com/mantrid-go/mantridproxy/circuit"
	"github.com/mantrid-go/mantridproxy/routing"
)

// Spin holds the client connection open, periodically re-resolving the
// host, until the route changes to something other than another Spin or
// the timeout elapses (at which point it serves Static("timeout")).
type Spin struct {
	Timeout       time.Duration
	CheckInterval time.Duration
	Host          string
	MatchedHost   string
	Table         *routing.Table
	Cfg           Config
	Breakers      *circuit.Registry
}

// Handle implements Action.
func (s *Spin) Handle(ctx context.Context, req *Request) error {
	iterations := int(s.Timeout / s.CheckInterval)
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	for i := 0; i < iterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		route, matchedHost, ok := s.Table.Resolve(s.Host, req.Protocol)
		if !ok {
			if s.Table.IsEmpty() {
				route, matchedHost = routing.Route{Kind: routing.KindNoHosts}, s.Host
			} else {
				route, matchedHost = routing.Route{Kind: routing.KindUnknown}, s.Host
			}
		}
		if route.Kind == routing.KindSpin {
			continue
		}

		next, err := New(route, s.Host, matchedHost, s.Table, s.Cfg, s.Breakers)
		if err != nil {
			return err
		}
		req.MatchedHost = matchedHost
		return next.Handle(ctx, req)
	}

	timeout := &Static{Type: "timeout", StaticDir: s.Cfg.StaticDir}
	return timeout.Handle(ctx, req)
}
