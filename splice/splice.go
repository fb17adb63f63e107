// Package splice implements the duplex byte pump between a client and a
// backend connection once a Proxy action has picked an upstream.
package splice

import (
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds each direction of a splice from the moment it starts.
const DefaultTimeout = 30 * time.Second

const bufferSize = 32 * 1024

const backendTimeoutResponse = "HTTP/1.0 594 Backend timeout\r\nConnection: close\r\nContent-length: 0\r\n\r\n"

// halfCloser is implemented by connections (e.g. *net.TCPConn) that support
// shutting down the write half without closing the read half.
type halfCloser interface {
	CloseWrite() error
}

// Run pumps bytes bidirectionally between client and server until both
// directions have finished, then closes both sockets unconditionally. It
// returns the total number of bytes handled across both directions.
//
// The server-to-client direction synthesizes a 594 Backend timeout response
// if it times out having forwarded zero bytes; the client-to-server
// direction's timeout is logged only, per the client already having gotten
// an HTTP/1.0 response or not needing one.
func Run(client, server net.Conn, timeout time.Duration) int64 {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var bytesHandled atomic.Int64
	done := make(chan directionResult, 2)

	go func() {
		done <- directionResult{name: "client_to_server", err: pump(client, server, timeout, &bytesHandled)}
	}()
	go func() {
		done <- directionResult{name: "server_to_client", err: pump(server, client, timeout, &bytesHandled)}
	}()

	results := map[string]error{}
	for i := 0; i < 2; i++ {
		r := <-done
		results[r.name] = r.err
	}

	if results["server_to_client"] == errTimeout && bytesHandled.Load() == 0 {
		log.Warn("backend sent no bytes before timing out, synthesizing 594 response")
		if _, err := client.Write([]byte(backendTimeoutResponse)); err != nil {
			log.WithError(err).Debug("failed to write synthetic 594 response")
		}
	} else if results["client_to_server"] == errTimeout {
		log.Debug("client to server direction timed out")
	}

	server.Close()
	client.Close()

	return bytesHandled.Load()
}

type directionResult struct {
	name string
	err  error
}

var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "splice: direction timed out" }

// pump copies from in to out until a read from in fails (EOF or any other
// error) or the direction times out. Write errors are swallowed and do not
// stop the loop. A read failure other than a timeout propagates half-close
// onto out; a timeout returns errTimeout without it. The read deadline is
// set once, covering the whole direction's lifetime from the moment pump
// starts, matching the "transmission timeout applies to the entire
// direction" contract rather than an idle/per-read timeout.
func pump(in, out net.Conn, timeout time.Duration, bytesHandled *atomic.Int64) error {
	deadline := time.Now().Add(timeout)
	if err := in.SetReadDeadline(deadline); err != nil {
		log.WithError(err).Debug("failed to set read deadline")
	}

	buf := make([]byte, bufferSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			bytesHandled.Add(int64(n))
			if _, werr := out.Write(buf[:n]); werr != nil {
				log.WithError(werr).Debug("swallowing write error mid-splice")
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return errTimeout
			}
			shutdownPeer(out)
			return nil
		}
	}
}

func shutdownPeer(out net.Conn) {
	hc, ok := out.(halfCloser)
	if !ok {
		return
	}
	if err := hc.CloseWrite(); err != nil {
		// the peer's write half could not be half-closed; force a full
		// close so the opposite direction's blocked read unblocks instead
		// of orphaning a half-open socket.
		out.Close()
	}
}
