// Package balancer owns the routing table, stats, and periodic
// maintenance loops, and orchestrates the balancer's full lifecycle:
// load, listen, serve, save, shut down.
package balancer

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mantrid-go/mantridproxy/action"
	"github.com/mantrid-go/mantridproxy/circuit"
	"github.com/mantrid-go/mantridproxy/config"
	"github.com/mantrid-go/mantridproxy/metrics"
	"github.com/mantrid-go/mantridproxy/ratelimit"
	"github.com/mantrid-go/mantridproxy/routing"
	"github.com/mantrid-go/mantridproxy/state"
)

// Balancer is the lifecycle owner described in spec.md §4.9: listeners,
// periodic save/maintenance/monitoring loops, stats aggregation.
type Balancer struct {
	cfg *config.Config

	table       *routing.Table
	stats       *StatsRegistry
	rateLimiter *ratelimit.Registry
	breakers    *circuit.Registry
	metrics     *metrics.Metrics

	limitedCounter     int64
	limitedCounterTail int64
	limitedMu          sync.Mutex

	listeners []net.Listener
	mgmtHTTP  []*http.Server

	wg sync.WaitGroup
}

// New constructs a Balancer from cfg. Call Run to start serving.
func New(cfg *config.Config) *Balancer {
	registry := prometheus.NewRegistry()
	return &Balancer{
		cfg:         cfg,
		table:       routing.NewTable(),
		stats:       NewStatsRegistry(),
		rateLimiter: ratelimit.NewRegistry(cfg.MaxRPS),
		breakers: circuit.NewRegistry(circuit.Options{
			Defaults: circuit.BreakerSettings{Type: circuit.ConsecutiveFailures, Failures: 3, Timeout: 10 * time.Second},
			IdleTTL:  time.Hour,
		}),
		metrics: metrics.New(registry),
	}
}

// Table returns the balancer's routing table, for the management API to
// mutate.
func (b *Balancer) Table() *routing.Table { return b.table }

// Stats returns the balancer's stats registry, for the management API's
// /stats endpoint.
func (b *Balancer) Stats() *StatsRegistry { return b.stats }

// Run loads the persisted snapshot, opens the configured listeners, spawns
// the periodic loops, drops privileges, and serves until ctx is canceled.
func (b *Balancer) Run(ctx context.Context) error {
	if err := b.load(); err != nil {
		return err
	}

	if err := b.ensureStateFileWritable(); err != nil {
		return err
	}

	actionCfg := action.DefaultConfig()
	actionCfg.StaticDir = b.cfg.StaticDir
	actionCfg.Metrics = b.metrics

	externalHandler := &Handler{
		Table: b.table, Stats: b.stats, RateLimiter: b.rateLimiter, Breakers: b.breakers,
		Metrics: b.metrics, ActionConfig: actionCfg, RPSHeaders: splitNonEmpty(b.cfg.RPSHeaders),
		EnforceRateLimits: b.cfg.EnforceRateLimits, Internal: false,
	}
	internalHandler := &Handler{
		Table: b.table, Stats: b.stats, RateLimiter: b.rateLimiter, Breakers: b.breakers,
		Metrics: b.metrics, ActionConfig: actionCfg, RPSHeaders: splitNonEmpty(b.cfg.RPSHeaders),
		EnforceRateLimits: b.cfg.EnforceRateLimits, Internal: true,
	}

	if err := b.listenAndServe(splitNonEmpty(b.cfg.ExternalAddresses), externalHandler); err != nil {
		return err
	}
	if err := b.listenAndServe(splitNonEmpty(b.cfg.InternalAddresses), internalHandler); err != nil {
		return err
	}
	if err := b.serveManagement(splitNonEmpty(b.cfg.ManagementAddresses)); err != nil {
		return err
	}

	b.wg.Add(3)
	go b.saveLoop(ctx)
	go b.maintenanceLoop(ctx)
	go b.monitoringLoop(ctx)

	b.dropPrivileges()

	<-ctx.Done()
	b.shutdown()
	b.wg.Wait()
	return nil
}

func splitNonEmpty(lf interface{ String() string }) []string {
	s := lf.String()
	if s == "" {
		return nil
	}
	out := []string{}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func (b *Balancer) load() error {
	if b.cfg.StateFile == "" {
		return nil
	}
	hosts, stats, err := state.LoadFile(b.cfg.StateFile)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for host, route := range hosts {
		b.table.Set(ctx, host, route)
	}
	b.stats.Restore(stats)
	return nil
}

func (b *Balancer) ensureStateFileWritable() error {
	if b.cfg.StateFile == "" {
		return nil
	}
	return state.SaveFile(b.cfg.StateFile, b.table.Snapshot(), b.stats.Snapshot())
}

func (b *Balancer) listenAndServe(addresses []string, h *Handler) error {
	for _, addr := range addresses {
		ln, err := openListener(addr)
		if err != nil {
			return err
		}
		if ln == nil {
			continue
		}
		b.listeners = append(b.listeners, ln)
		b.wg.Add(1)
		go b.acceptLoop(ln, h)
	}
	return nil
}

func (b *Balancer) acceptLoop(ln net.Listener, h *Handler) {
	defer b.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.WithError(err).Warn("accept failed")
			continue
		}
		go h.HandleConnection(context.Background(), conn)
	}
}

// openListener binds addr, treating EADDRINUSE as fatal and EACCES (or any
// other bind error) as a skip-this-listener so one bad address doesn't
// take the others down with it.
func openListener(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return nil, errFatalBind(addr, err)
	}
	log.WithField("address", addr).WithError(err).Error("failed to bind listener, skipping")
	return nil, nil
}

func errFatalBind(addr string, cause error) error {
	return &bindError{addr: addr, cause: cause}
}

type bindError struct {
	addr  string
	cause error
}

func (e *bindError) Error() string {
	return "balancer: fatal bind error on " + e.addr + ": " + e.cause.Error()
}

func (e *bindError) Unwrap() error { return e.cause }

func (b *Balancer) dropPrivileges() {
	if b.cfg.GID != 0 {
		if err := unix.Setgid(b.cfg.GID); err != nil {
			log.WithError(err).Warn("failed to drop group privileges")
		} else {
			log.WithField("gid", b.cfg.GID).Info("dropped group privileges")
		}
	}
	if b.cfg.UID != 0 {
		if err := unix.Setuid(b.cfg.UID); err != nil {
			log.WithError(err).Warn("failed to drop user privileges")
		} else {
			log.WithField("uid", b.cfg.UID).Info("dropped user privileges")
		}
	}
}

func (b *Balancer) saveLoop(ctx context.Context) {
	defer b.wg.Done()
	if b.cfg.StateFile == "" {
		return
	}
	interval := b.cfg.SaveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastHash []byte
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hosts := b.table.Snapshot()
			statsSnap := b.stats.Snapshot()
			hash, err := state.Hash(hosts, statsSnap)
			if err != nil {
				log.WithError(err).Error("failed to hash state for save loop")
				continue
			}
			if bytes.Equal(hash, lastHash) {
				continue
			}
			if err := state.SaveFile(b.cfg.StateFile, hosts, statsSnap); err != nil {
				log.WithError(err).Error("failed to save state file")
				continue
			}
			lastHash = hash
		}
	}
}

func (b *Balancer) maintenanceLoop(ctx context.Context) {
	defer b.wg.Done()
	interval := b.cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := b.rateLimiter.GC(time.Now(), interval)
			if removed > 0 {
				log.WithField("removed", removed).Debug("garbage collected idle rate counters")
			}
		}
	}
}

func (b *Balancer) monitoringLoop(ctx context.Context) {
	defer b.wg.Done()
	interval := b.cfg.MonitoringInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.rotateLimitedCounter()
		}
	}
}

func (b *Balancer) rotateLimitedCounter() {
	b.limitedMu.Lock()
	defer b.limitedMu.Unlock()
	b.limitedCounterTail = b.limitedCounter
	b.limitedCounter = 0
}

func (b *Balancer) shutdown() {
	for _, ln := range b.listeners {
		ln.Close()
	}
	for _, srv := range b.mgmtHTTP {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		srv.Shutdown(ctx)
		cancel()
	}
}
