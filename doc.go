/*
Package mantridproxy implements a host-routed HTTP/TCP reverse proxy and
load balancer: a live routing table maps a request's LoadBalanceTo header to one
of several route kinds (proxy, static response, redirect, empty status,
alias, spin-wait), mutable at runtime through a small management HTTP
API and persisted to a JSON snapshot across restarts.

Unlike a filter-chain router, a route here carries no per-request
pipeline: each route kind is a fixed action. The interesting behavior
lives in how a proxy route picks a backend (random or least
connections, with a bounded retry budget across blacklisted backends),
how a failed connection blacklists its backend and starts a background
health-check prober, and how a raw byte-for-byte splice moves the
connection between client and backend once one is chosen.

# Routing Mechanism

A connection's LoadBalanceTo header is matched against the table with the
following precedence: exact key beats subdomain match, and a
protocol-qualified key ("https://host") beats a bare one at the same
specificity. A route opts in to subdomain matching explicitly; any
route can be matched by a narrower subdomain only in that case.

The match produces an Action (see the action package), which handles
the connection directly: writes a canned response, issues a redirect,
or proxies the connection's raw bytes to a selected backend.

For further details, see the 'routing' and 'action' package
documentation.

# Proxying

A Proxy action holds a set of backends and dials one of them, retrying
across the configured attempt budget with a constant backoff delay
between attempts. A backend that fails to connect is blacklisted and
gains a background health-check loop; a successful probe clears it.
Once a backend connection succeeds, the client and backend connections
are spliced together by the splice package until either side closes or
the configured timeout elapses, at which point a zero-byte server
timeout synthesizes a "594 Backend timeout" response rather than
leaving the client to hang.

For further details, see the 'backend', 'action' and 'splice' package
documentation.

# State and Management

The routing table, and the request counters it accumulates, are
periodically snapshotted to a JSON state file and reloaded from it at
startup, so that a restart doesn't discard operator-configured routes.
The balancer reads the state file only at startup; edits made to it
directly while the balancer runs are not reloaded. See the 'state'
package documentation for the exact snapshot shape.

The management HTTP API (see the 'balancer' package) exposes the full
routing table and per-host stats as JSON, and accepts PUT/DELETE to
mutate individual routes.

# Running

The balancer can be started with the default executable command,
'mantridproxy', or embedded by constructing a balancer.Balancer
directly and calling Run. Command line flags mirror the config
package's fields; for a full list, run:

	mantridproxy -help

# Logging and Metrics

The balancer logs structured entries via logrus, and exposes Prometheus
collectors for open/completed requests, bytes transferred and rate
limiting on the management listener's /metrics endpoint.

For details, see the 'logging' and 'metrics' package documentation.
*/
package mantridproxy
