package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowAdmitsUpToBurstThenLimits(t *testing.T) {
	r := NewRegistry(2)
	now := time.Now()

	assert.True(t, r.Allow("token", now))
	assert.True(t, r.Allow("token", now))
	assert.False(t, r.Allow("token", now))
}

func TestAllowRefillsOverTime(t *testing.T) {
	r := NewRegistry(1)
	now := time.Now()
	assert.True(t, r.Allow("token", now))
	assert.False(t, r.Allow("token", now))
	assert.True(t, r.Allow("token", now.Add(2*time.Second)))
}

func TestZeroMaxRPSDisablesLimiting(t *testing.T) {
	r := NewRegistry(0)
	now := time.Now()
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow("token", now))
	}
}

func TestGCRemovesIdleCounters(t *testing.T) {
	r := NewRegistry(5)
	now := time.Now()
	r.Allow("stale", now)
	r.Allow("fresh", now.Add(3*time.Second))

	removed := r.GC(now.Add(3*time.Second), 2*time.Second)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())
}
