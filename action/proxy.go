package action

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/backend"
	"github.com/mantrid-go/mantridproxy/circuit"
	"github.com/mantrid-go/mantridproxy/logging"
	"github.com/mantrid-go/mantridproxy/metrics"
	"github.com/mantrid-go/mantridproxy/routing"
	"github.com/mantrid-go/mantridproxy/splice"
)

const (
	defaultAttempts = 2
	defaultDelay    = time.Second
	defaultAlgorithm = "least_connections"

	// consecutive requests whose attempt loop ended without a backend
	// connection (including NoHealthyBackends) before the per-route breaker
	// starts fast-failing instead of running the full attempt loop.
	breakerTripAfter = 3
	breakerCooldown  = 10 * time.Second
)

// Dialer is the subset of net.Dialer a Proxy needs; overridable in tests.
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// Proxy selects a backend, connects to it with retry and blacklisting on
// failure, then splices the client connection to it.
type Proxy struct {
	Backends       []*backend.Backend
	Algorithm      string
	Healthcheck    bool
	Attempts       int
	Delay          time.Duration
	ConnectTimeout time.Duration
	SpliceTimeout  time.Duration
	MatchedHost    string
	StaticDir      string
	Breakers       *circuit.Registry
	Metrics        *metrics.Metrics
	Dial           Dialer
}

// NewProxy builds a Proxy from a proxy route's parameters, applying the
// defaults documented in spec.md §4.4.
func NewProxy(p routing.Params, matchedHost string, cfg Config, breakers *circuit.Registry) *Proxy {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := defaultDelay
	if p.Delay > 0 {
		delay = time.Duration(p.Delay * float64(time.Second))
	}
	algorithm := p.Algorithm
	if algorithm == "" {
		algorithm = defaultAlgorithm
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}

	dialer := &net.Dialer{}
	return &Proxy{
		Backends:       p.Backends,
		Algorithm:      algorithm,
		Healthcheck:    p.HealthcheckEnabled(),
		Attempts:       attempts,
		Delay:          delay,
		ConnectTimeout: connectTimeout,
		SpliceTimeout:  splice.DefaultTimeout,
		MatchedHost:    matchedHost,
		StaticDir:      cfg.StaticDir,
		Breakers:       breakers,
		Metrics:        cfg.Metrics,
		Dial:           dialer.DialContext,
	}
}

// trackConnections updates the backend-connections gauge to b's current
// live count, a no-op when no Metrics are wired (e.g. in tests).
func (p *Proxy) trackConnections(b *backend.Backend) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.BackendConns.WithLabelValues(b.Address()).Set(float64(b.Connections()))
}

// Handle implements Action.
func (p *Proxy) Handle(ctx context.Context, req *Request) error {
	var breakerDone func(bool)
	if p.Breakers != nil {
		if br := p.Breakers.Get(circuit.BreakerSettings{
			Type:     circuit.ConsecutiveFailures,
			Host:     p.MatchedHost,
			Failures: breakerTripAfter,
			Timeout:  breakerCooldown,
		}); br != nil {
			done, allow := br.Allow()
			if !allow {
				log.WithField("matched_host", p.MatchedHost).Warn("route circuit open, fast-failing")
				fallback := &Static{Type: "no_healthy_backends", StaticDir: p.StaticDir}
				return fallback.Handle(ctx, req)
			}
			breakerDone = done
		}
	}

	selected, conn, err := p.connect(ctx)
	if err != nil {
		if breakerDone != nil {
			breakerDone(false)
		}
		log.WithField("matched_host", p.MatchedHost).WithError(err).Warn("proxy attempt loop exhausted")
		return nil
	}
	if breakerDone != nil {
		breakerDone(true)
	}

	defer func() {
		selected.DropConnection()
		p.trackConnections(selected)
	}()
	defer conn.Close()

	if len(req.Prefix) > 0 {
		if _, err := conn.Write(req.Prefix); err != nil {
			logging.ForBackend(selected.Address()).WithError(err).Debug("failed writing buffered prefix upstream")
			return nil
		}
	}

	splice.Run(req.Conn, conn, p.SpliceTimeout)
	return nil
}

// connect runs the bounded attempt loop: select a backend, dial it with the
// connect timeout, and on failure blacklist (if health-checking) and sleep
// before retrying. Returns the backend whose connection counter has already
// been incremented, and the live connection to it.
func (p *Proxy) connect(ctx context.Context) (*backend.Backend, net.Conn, error) {
	bo := backoff.NewConstantBackOff(p.Delay)

	for attempt := 0; attempt < p.Attempts; attempt++ {
		b, err := p.selectBackend()
		if err != nil {
			return nil, nil, err
		}

		cctx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
		conn, err := p.Dial(cctx, "tcp", b.Address())
		cancel()
		if err != nil {
			if p.Healthcheck && !b.Blacklisted() {
				logging.ForBackend(b.Address()).WithError(err).Warn("blacklisting backend after failed connect")
				b.Blacklist(ctx)
			}
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
			continue
		}

		b.AddConnection()
		p.trackConnections(b)
		return b, conn, nil
	}

	return nil, nil, fmt.Errorf("proxy: exhausted %d attempts", p.Attempts)
}

func (p *Proxy) validBackends() []*backend.Backend {
	if !p.Healthcheck {
		return p.Backends
	}
	valid := make([]*backend.Backend, 0, len(p.Backends))
	for _, b := range p.Backends {
		if !b.Blacklisted() {
			valid = append(valid, b)
		}
	}
	return valid
}

func (p *Proxy) selectBackend() (*backend.Backend, error) {
	valid := p.validBackends()
	if len(valid) == 0 {
		return nil, ErrNoHealthyBackends
	}

	if p.Algorithm == "random" {
		return valid[rand.IntN(len(valid))], nil
	}

	// least_connections: uniform choice among backends tied at the minimum
	// connection count, so quiescent backends don't herd-pin to the first
	// one in the list.
	min := valid[0].Connections()
	for _, b := range valid[1:] {
		if c := b.Connections(); c < min {
			min = c
		}
	}
	tied := make([]*backend.Backend, 0, len(valid))
	for _, b := range valid {
		if b.Connections() == min {
			tied = append(tied, b)
		}
	}
	return tied[rand.IntN(len(tied))], nil
}
