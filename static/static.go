// Package static bundles the default canned HTTP responses
// (unknown.http, no-hosts.http, timeout.http, no_healthy_backends.http)
// served when an operator hasn't dropped a matching file into the
// configured static directory.
package static

import "embed"

//go:embed *.http
var defaults embed.FS

// Default returns the bundled default response body for the given type
// name (without the .http suffix), or ok == false if there is no bundled
// default for it.
func Default(typ string) (body []byte, ok bool) {
	data, err := defaults.ReadFile(typ + ".http")
	if err != nil {
		return nil, false
	}
	return data, true
}
