package circuit

import (
	"testing"
	"time"
)

func createSettings(failures int) BreakerSettings {
	return BreakerSettings{
		Type:     ConsecutiveFailures,
		Failures: failures,
	}
}

func createHostSettings(host string, failures int) BreakerSettings {
	s := createSettings(failures)
	s.Host = host
	return s
}

func checkNil(t *testing.T, b *Breaker) {
	t.Helper()
	if b != nil {
		t.Error("unexpected breaker")
	}
}

func checkNotNil(t *testing.T, b *Breaker) {
	t.Helper()
	if b == nil {
		t.Error("failed to receive a breaker")
	}
}

func checkSettings(t *testing.T, left, right BreakerSettings) {
	t.Helper()
	if left != right {
		t.Errorf("breaker has unexpected settings: got %+v, want %+v", left, right)
	}
}

func checkWithoutHost(t *testing.T, b *Breaker, s BreakerSettings) {
	t.Helper()
	checkNotNil(t, b)
	sb := b.settings
	sb.Host = ""
	checkSettings(t, sb, s)
}

func checkWithHost(t *testing.T, b *Breaker, s BreakerSettings) {
	t.Helper()
	checkNotNil(t, b)
	checkSettings(t, b.settings, s)
}

func TestRegistryGet(t *testing.T) {
	t.Run("no settings", func(t *testing.T) {
		r := NewRegistry(Options{})
		b := r.Get(BreakerSettings{Host: "foo.example"})
		checkNil(t, b)
	})

	t.Run("only default settings", func(t *testing.T) {
		d := createSettings(5)
		r := NewRegistry(Options{Defaults: d})

		b := r.Get(BreakerSettings{Host: "foo.example"})
		checkWithoutHost(t, b, r.defaults)
	})

	t.Run("only host settings", func(t *testing.T) {
		h0 := createHostSettings("foo.example", 5)
		h1 := createHostSettings("bar.example", 5)
		r := NewRegistry(Options{HostSettings: []BreakerSettings{h0, h1}})

		b := r.Get(BreakerSettings{Host: "foo.example"})
		checkWithHost(t, b, h0)

		b = r.Get(BreakerSettings{Host: "bar.example"})
		checkWithHost(t, b, h1)

		b = r.Get(BreakerSettings{Host: "baz.example"})
		checkNil(t, b)
	})

	t.Run("default and host settings", func(t *testing.T) {
		d := createSettings(5)
		h0 := createHostSettings("foo.example", 5)
		h1 := createHostSettings("bar.example", 5)
		r := NewRegistry(Options{Defaults: d, HostSettings: []BreakerSettings{h0, h1}})

		b := r.Get(BreakerSettings{Host: "foo.example"})
		checkWithHost(t, b, h0)

		b = r.Get(BreakerSettings{Host: "baz.example"})
		checkWithoutHost(t, b, d)
	})

	t.Run("per-request settings override the registry", func(t *testing.T) {
		r := NewRegistry(Options{})

		cs := createHostSettings("foo.example", 15)
		b := r.Get(cs)
		checkWithHost(t, b, cs)
	})

	t.Run("disabled always returns nil regardless of defaults", func(t *testing.T) {
		d := createSettings(5)
		h0 := createHostSettings("foo.example", 5)
		r := NewRegistry(Options{Defaults: d, HostSettings: []BreakerSettings{h0}})

		b := r.Get(BreakerSettings{Host: "foo.example", Disabled: true})
		checkNil(t, b)
	})
}

func TestRegistryEvictsIdleBreakers(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	idleTTL := 15 * time.Millisecond
	r := NewRegistry(Options{
		IdleTTL: idleTTL,
		HostSettings: []BreakerSettings{
			createHostSettings("foo.example", 4),
			createHostSettings("bar.example", 5),
			createHostSettings("baz.example", 6),
			createHostSettings("qux.example", 7),
		},
	})
	toEvict := r.hostSettings["baz.example"]

	get := func(host string) {
		b := r.Get(BreakerSettings{Host: host})
		if b == nil {
			t.Error("failed to retrieve breaker")
		}
	}

	get("foo.example")
	get("bar.example")
	get("baz.example")

	time.Sleep(2 * idleTTL / 3)

	get("foo.example")
	get("bar.example")

	time.Sleep(2 * idleTTL / 3)

	get("qux.example")

	if len(r.lookup) != 3 || r.lookup[toEvict] != nil {
		t.Error("failed to evict the idle breaker from the lookup")
		return
	}

	for s := range r.lookup {
		if s.Host == "baz.example" {
			t.Error("baz.example should have been evicted for going idle")
			return
		}
	}
}

func TestIndividualHostIdleTTLOverridesDefault(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	const (
		consecutiveFailures = 5
		defaultIdleTimeout   = 15 * time.Millisecond
		hostIdleTimeout      = 6 * time.Millisecond
	)

	r := NewRegistry(Options{
		Defaults: BreakerSettings{Type: ConsecutiveFailures, Failures: consecutiveFailures, IdleTTL: defaultIdleTimeout},
		HostSettings: []BreakerSettings{
			{Host: "short.example", IdleTTL: hostIdleTimeout},
		},
	})

	shouldBeClosed := func(t *testing.T, host string) func(bool) {
		t.Helper()
		b := r.Get(BreakerSettings{Host: host})
		if b == nil {
			t.Error("failed to get breaker")
			return nil
		}

		done, ok := b.Allow()
		if !ok {
			t.Error("breaker unexpectedly open")
			return nil
		}

		return done
	}

	fail := func(t *testing.T, host string) {
		done := shouldBeClosed(t, host)
		if done != nil {
			done(false)
		}
	}

	mkfail := func(t *testing.T, host string) func() {
		return func() { fail(t, host) }
	}

	t.Run("default idle TTL", func(t *testing.T) {
		times(consecutiveFailures-1, mkfail(t, "long.example"))
		time.Sleep(defaultIdleTimeout)
		fail(t, "long.example")
		shouldBeClosed(t, "long.example")
	})

	t.Run("host-specific idle TTL", func(t *testing.T) {
		times(consecutiveFailures-1, mkfail(t, "short.example"))
		time.Sleep(hostIdleTimeout)
		fail(t, "short.example")
		shouldBeClosed(t, "short.example")
	})
}
