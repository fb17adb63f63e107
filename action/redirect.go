package action

import (
	"context"
	"fmt"
	"strings"
)

// Redirect issues an HTTP/1.0 302 to Target, inferring the scheme from the
// request's forwarded-protocol headers when Target doesn't already carry
// one.
type Redirect struct {
	Target string
}

// Handle implements Action.
func (r *Redirect) Handle(_ context.Context, req *Request) error {
	destination := r.Target
	if !strings.Contains(destination, "://") {
		scheme := "http"
		proto := req.Headers.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = req.Headers.Get("X-Forwarded-Protocol")
		}
		if proto == "https" || proto == "ssl" {
			scheme = "https"
		}
		destination = fmt.Sprintf("%s://%s", scheme, destination)
	}

	location := fmt.Sprintf("%s/%s", strings.TrimRight(destination, "/"), strings.TrimLeft(req.Path, "/"))
	resp := fmt.Sprintf("HTTP/1.0 302 Found\r\nLocation: %s\r\n\r\n", location)
	return writeIgnoringBrokenPipe(req.Conn, []byte(resp))
}
