package balancer

import (
	"sync"
	"sync/atomic"

	"github.com/mantrid-go/mantridproxy/state"
)

// hostStats is the live, atomically-updated counters for one matched host.
type hostStats struct {
	openRequests      atomic.Int64
	completedRequests atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
}

// StatsRegistry owns the per-matched-host counters for the lifetime of the
// balancer. Concurrent updates to the same host are serialized by the
// atomics on hostStats; the registry's own lock only guards map insertion.
type StatsRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*hostStats
}

// NewStatsRegistry returns an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{hosts: map[string]*hostStats{}}
}

// Get returns the counters for host, creating them on first observation.
func (s *StatsRegistry) Get(host string) *hostStats {
	s.mu.RLock()
	hs, ok := s.hosts[host]
	s.mu.RUnlock()
	if ok {
		return hs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hs, ok = s.hosts[host]; ok {
		return hs
	}
	hs = &hostStats{}
	s.hosts[host] = hs
	return hs
}

// Restore seeds the registry from a loaded snapshot (open_requests is
// already zeroed by state.Load).
func (s *StatsRegistry) Restore(snapshot map[string]state.HostStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for host, hs := range snapshot {
		entry := &hostStats{}
		entry.completedRequests.Store(hs.CompletedRequests)
		entry.bytesSent.Store(hs.BytesSent)
		entry.bytesReceived.Store(hs.BytesReceived)
		s.hosts[host] = entry
	}
}

// Snapshot returns the current counters for every host observed so far, in
// the persisted-state shape.
func (s *StatsRegistry) Snapshot() map[string]state.HostStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]state.HostStats, len(s.hosts))
	for host, hs := range s.hosts {
		out[host] = state.HostStats{
			OpenRequests:      hs.openRequests.Load(),
			CompletedRequests: hs.completedRequests.Load(),
			BytesSent:         hs.bytesSent.Load(),
			BytesReceived:     hs.bytesReceived.Load(),
		}
	}
	return out
}

// One returns the counters for a single host, or ok == false if never observed.
func (s *StatsRegistry) One(host string) (state.HostStats, bool) {
	s.mu.RLock()
	hs, ok := s.hosts[host]
	s.mu.RUnlock()
	if !ok {
		return state.HostStats{}, false
	}
	return state.HostStats{
		OpenRequests:      hs.openRequests.Load(),
		CompletedRequests: hs.completedRequests.Load(),
		BytesSent:         hs.bytesSent.Load(),
		BytesReceived:     hs.bytesReceived.Load(),
	}, true
}
