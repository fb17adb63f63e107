// Package statsocket wraps a net.Conn to transparently count bytes
// flowing in each direction, feeding per-host request stats.
package statsocket

import (
	"net"
	"sync/atomic"
)

// Conn is a net.Conn that counts bytes read and written.
type Conn struct {
	net.Conn

	sent     atomic.Int64
	received atomic.Int64
}

// Wrap returns c wrapped with byte counters.
func Wrap(c net.Conn) *Conn {
	return &Conn{Conn: c}
}

// Read implements net.Conn, counting successfully read bytes as received.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.received.Add(int64(n))
	}
	return n, err
}

// Write implements net.Conn, counting successfully written bytes as sent.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.sent.Add(int64(n))
	}
	return n, err
}

// BytesSent returns the total bytes successfully written so far.
func (c *Conn) BytesSent() int64 { return c.sent.Load() }

// BytesReceived returns the total bytes successfully read so far.
func (c *Conn) BytesReceived() int64 { return c.received.Load() }

// CloseWrite half-closes the write side if the underlying conn supports it,
// falling back to a full close otherwise.
func (c *Conn) CloseWrite() error {
	if hc, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return c.Conn.Close()
}
