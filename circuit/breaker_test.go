package circuit

import (
	"testing"
	"time"
)

func times(n int, f func()) {
	for n > 0 {
		f()
		n--
	}
}

func createDone(t *testing.T, success bool, b *Breaker) func() {
	return func() {
		if t.Failed() {
			return
		}

		done, ok := b.Allow()
		if !ok {
			t.Error("breaker is unexpectedly open")
			return
		}

		done(success)
	}
}

func succeed(t *testing.T, b *Breaker) func() { return createDone(t, true, b) }
func fail(t *testing.T, b *Breaker) func()    { return createDone(t, false, b) }
func failOnce(t *testing.T, b *Breaker)       { fail(t, b)() }

func checkClosed(t *testing.T, b *Breaker) {
	if _, ok := b.Allow(); !ok {
		t.Error("breaker is not closed")
	}
}

func checkOpen(t *testing.T, b *Breaker) {
	if _, ok := b.Allow(); ok {
		t.Error("breaker is not open")
	}
}

func TestConsecutiveFailures(t *testing.T) {
	s := BreakerSettings{
		Type:             ConsecutiveFailures,
		Host:             "backends.example",
		Failures:         3,
		HalfOpenRequests: 3,
		Timeout:          15 * time.Millisecond,
	}

	waitTimeout := func() {
		time.Sleep(s.Timeout)
	}

	t.Run("new breaker closed", func(t *testing.T) {
		b := newBreaker(s)
		checkClosed(t, b)
	})

	t.Run("does not open on not enough failures", func(t *testing.T) {
		b := newBreaker(s)
		times(s.Failures-1, fail(t, b))
		checkClosed(t, b)
	})

	t.Run("open on failures", func(t *testing.T) {
		b := newBreaker(s)
		times(s.Failures, fail(t, b))
		checkOpen(t, b)
	})

	t.Run("go half open, close after required successes", func(t *testing.T) {
		b := newBreaker(s)
		times(s.Failures, fail(t, b))
		waitTimeout()
		times(s.HalfOpenRequests, succeed(t, b))
		checkClosed(t, b)
	})

	t.Run("go half open, reopen after a fail within the required successes", func(t *testing.T) {
		b := newBreaker(s)
		times(s.Failures, fail(t, b))
		waitTimeout()
		times(s.HalfOpenRequests-1, succeed(t, b))
		failOnce(t, b)
		checkOpen(t, b)
	})
}

func TestVoidBreakerNeverOpens(t *testing.T) {
	b := newBreaker(BreakerSettings{Host: "unbroken.example"})
	times(50, fail(t, b))
	checkClosed(t, b)
}

func TestMergeSettingsFillsFromDefaults(t *testing.T) {
	defaults := BreakerSettings{Type: ConsecutiveFailures, Failures: 5, Timeout: time.Minute, IdleTTL: time.Hour}
	merged := BreakerSettings{Host: "foo.example"}.mergeSettings(defaults)

	if merged.Type != ConsecutiveFailures || merged.Failures != 5 || merged.Timeout != time.Minute || merged.IdleTTL != time.Hour {
		t.Errorf("expected route settings to inherit defaults, got %+v", merged)
	}
	if merged.Host != "foo.example" {
		t.Error("mergeSettings must not overwrite a field the route already set")
	}
}
