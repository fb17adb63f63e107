// Package backend models a single upstream TCP endpoint: its address,
// its live connection count, and its blacklist/health-probe state.
package backend

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/mantrid-go/mantridproxy/logging"
)

const (
	// DefaultProbeDelay is the pause between failed health-check attempts.
	DefaultProbeDelay = time.Second
	// DefaultProbeTimeout bounds a single health-check connect attempt.
	DefaultProbeTimeout = time.Second
)

// Dialer is the subset of net.Dialer a Backend needs; overridable in tests.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Backend is one upstream address plus its live state. The zero value is
// not usable; construct with New.
type Backend struct {
	host string
	port int

	connections atomic.Int64
	blacklisted atomic.Bool
	retired     atomic.Bool
	probing     atomic.Bool

	probeDelay   time.Duration
	probeTimeout time.Duration
	dial         Dialer
}

// New returns a Backend for host:port with default health-check timing.
func New(host string, port int) *Backend {
	dialer := &net.Dialer{}
	return &Backend{
		host:         host,
		port:         port,
		probeDelay:   DefaultProbeDelay,
		probeTimeout: DefaultProbeTimeout,
		dial:         dialer.DialContext,
	}
}

// Host returns the backend's hostname or IP.
func (b *Backend) Host() string { return b.host }

// Port returns the backend's TCP port.
func (b *Backend) Port() int { return b.port }

// Address returns "host:port".
func (b *Backend) Address() string { return net.JoinHostPort(b.host, strconv.Itoa(b.port)) }

// AddConnection records a new in-flight connection to this backend.
func (b *Backend) AddConnection() { b.connections.Add(1) }

// DropConnection must be called exactly once for every AddConnection.
func (b *Backend) DropConnection() { b.connections.Add(-1) }

// Connections returns the current active-connection count.
func (b *Backend) Connections() int64 { return b.connections.Load() }

// Blacklisted reports whether the backend is currently excluded from selection.
func (b *Backend) Blacklisted() bool { return b.blacklisted.Load() }

// Retired reports whether the owning route has been replaced or removed.
func (b *Backend) Retired() bool { return b.retired.Load() }

// Retire marks the backend as no longer referenced by any live route.
// In-flight connections are left alone; only the health-check loop observes
// this flag, self-terminating on its next iteration.
func (b *Backend) Retire() { b.retired.Store(true) }

// Blacklist marks the backend unhealthy and ensures a health prober is
// running, starting one if none is. Calling Blacklist repeatedly while a
// prober is already active is a no-op beyond the flag itself.
func (b *Backend) Blacklist(ctx context.Context) {
	b.blacklisted.Store(true)
	b.startHealthCheck(ctx)
}

// EnsureHealthCheck starts the health prober if the backend is already
// blacklisted and no prober is currently running. It is a no-op for a
// healthy backend: there is nothing to probe until it actually fails,
// unlike the original implementation which unconditionally spawned (and
// immediately exited) a checking loop on every route installation.
func (b *Backend) EnsureHealthCheck(ctx context.Context) {
	if !b.Blacklisted() {
		return
	}
	b.startHealthCheck(ctx)
}

func (b *Backend) startHealthCheck(ctx context.Context) {
	if !b.probing.CompareAndSwap(false, true) {
		return
	}
	go b.healthCheckLoop(ctx)
}

func (b *Backend) healthCheckLoop(ctx context.Context) {
	defer b.probing.Store(false)

	bo := backoff.NewConstantBackOff(b.probeDelay)
	entry := logging.ForBackend(b.Address())
	for {
		if b.Retired() || !b.Blacklisted() {
			entry.Debug("stopping health check: backend retired or no longer blacklisted")
			return
		}
		b.checkHealth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
	}
}

func (b *Backend) checkHealth(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	conn, err := b.dial(cctx, "tcp", b.Address())
	if err != nil {
		logging.ForBackend(b.Address()).WithError(err).Debug("health probe failed")
		return
	}
	conn.Close()
	b.blacklisted.Store(false)
	logging.ForBackend(b.Address()).Info("backend healthy again")
}
