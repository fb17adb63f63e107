// Package action implements the family of per-connection handlers a
// resolved Route dispatches to: Empty, Static, Redirect, Spin, Alias,
// Unknown, NoHosts, and Proxy.
package action

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"time"

	"github.com/mantrid-go/mantridproxy/circuit"
	"github.com/mantrid-go/mantridproxy/metrics"
	"github.com/mantrid-go/mantridproxy/routing"
)

// ErrNoHealthyBackends is returned when a Proxy route's valid backend set
// is empty, the Go equivalent of mantrid's NoHealthyBackends exception.
var ErrNoHealthyBackends = errors.New("action: no healthy backends available")

// Request carries everything an Action needs to serve one connection.
// Host/Protocol/MatchedHost are threaded through so Spin and Alias can
// re-resolve or delegate without the caller needing to re-parse anything.
type Request struct {
	Conn        net.Conn
	Prefix      []byte
	Path        string
	Headers     textproto.MIMEHeader
	Host        string
	Protocol    string
	MatchedHost string
}

// Action is the common capability every route kind dispatches to.
type Action interface {
	Handle(ctx context.Context, req *Request) error
}

// Config bundles the operator-configurable knobs actions need that don't
// come from the route itself.
type Config struct {
	StaticDir          string
	ConnectTimeout     time.Duration
	DefaultSpinTimeout time.Duration
	SpinCheckInterval  time.Duration
	Metrics            *metrics.Metrics
}

// DefaultConfig returns the configuration mantrid's defaults correspond to.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     2 * time.Second,
		DefaultSpinTimeout: 120 * time.Second,
		SpinCheckInterval:  time.Second,
	}
}

// New builds the Action for route, as observed for host resolving to
// matchedHost. table and breakers are threaded through for the kinds that
// need to re-resolve (Spin) or delegate (Alias) or fast-fail (Proxy).
func New(route routing.Route, host, matchedHost string, table *routing.Table, cfg Config, breakers *circuit.Registry) (Action, error) {
	switch route.Kind {
	case routing.KindEmpty:
		code := route.Params.Code
		if code == 0 {
			code = 200
		}
		return &Empty{Code: code}, nil

	case routing.KindStatic:
		return &Static{Type: route.Params.Type, StaticDir: cfg.StaticDir}, nil

	case routing.KindUnknown:
		return &Static{Type: "unknown", StaticDir: cfg.StaticDir}, nil

	case routing.KindNoHosts:
		return &Static{Type: "no-hosts", StaticDir: cfg.StaticDir}, nil

	case routing.KindRedirect:
		return &Redirect{Target: route.Params.RedirectTo}, nil

	case routing.KindSpin:
		timeout := cfg.DefaultSpinTimeout
		if route.Params.Timeout > 0 {
			timeout = time.Duration(route.Params.Timeout) * time.Second
		}
		interval := cfg.SpinCheckInterval
		if route.Params.CheckInterval > 0 {
			interval = time.Duration(route.Params.CheckInterval) * time.Second
		}
		return &Spin{
			Timeout:       timeout,
			CheckInterval: interval,
			Host:          host,
			MatchedHost:   matchedHost,
			Table:         table,
			Cfg:           cfg,
			Breakers:      breakers,
		}, nil

	case routing.KindAlias:
		target, ok := table.Get(route.Params.Hostname)
		if !ok || target.Kind == routing.KindAlias {
			// Missing target or alias-of-alias: both are operator error,
			// surfaced as Unknown rather than recursing or crashing.
			return New(routing.Route{Kind: routing.KindUnknown}, host, matchedHost, table, cfg, breakers)
		}
		delegate, err := New(target, host, matchedHost, table, cfg, breakers)
		if err != nil {
			return nil, err
		}
		return &Alias{Delegate: delegate}, nil

	case routing.KindProxy:
		return NewProxy(route.Params, matchedHost, cfg, breakers), nil

	default:
		return &Static{Type: "unknown", StaticDir: cfg.StaticDir}, nil
	}
}
