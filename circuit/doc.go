/*
Package circuit implements the per-route circuit breaker action.Proxy uses
to stop hammering a host whose backends have gone unhealthy.

Every matched host that resolves to a Proxy route gets its own breaker,
keyed by that host, so a run of failures against one host never affects the
breaker tracking any other host. A breaker counts consecutive failed
outcomes, one per request: a request whose attempt loop ends without a
backend connection (every attempt failed to connect, or no healthy
backend was left to try) counts as one failure, and a request that
connects counts as a success, even if earlier attempts failed. After Failures
consecutive failures it opens, and for Timeout afterwards the proxy skips
its attempt loop entirely and serves Static("no_healthy_backends") instead.
Once Timeout elapses, the breaker goes half-open and lets HalfOpenRequests
requests through concurrently to test the waters; if any of those fail it
reopens, if they all succeed it closes.

# Registry

Registry.Get is called once per request by action.Proxy before it runs the
attempt loop. The registry creates breakers on demand, keyed by the exact
BreakerSettings requested, and recycles ones that have been idle longer
than their IdleTTL so a route that stops being resolved (its route was
replaced or removed) doesn't hold a breaker forever.

# Configuring

balancer.New builds one Registry for the whole process with fixed
defaults (3 consecutive failures, a 10 second open timeout, a one hour
idle TTL); no command-line flag sets them. action.Proxy passes its own
failure count and open timeout on every Get, and there is no per-host
override surface beyond what Options.HostSettings accepts directly. Disabled overrides the defaults for
an individual BreakerSettings value, letting a caller opt a specific
request out of breaking altogether.
*/
package circuit
