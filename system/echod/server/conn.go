package server

import (
	"net"
	"sync/atomic"
	"time"
)

// Conn is one accepted TCP peer.
//
// The owning Handler is the only reader. Any handler may Send to it
// during a broadcast; net.Conn serializes concurrent Write calls, so
// sends never interleave.
type Conn struct {
	// ID is the registry handle, "tcp-N".
	ID      string
	Remote  string
	Created time.Time

	nc     net.Conn
	closed atomic.Bool
}

// NewConn wraps nc under the handle id.
func NewConn(id string, nc net.Conn) *Conn {
	remote := ""
	if addr := nc.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Conn{
		ID:      id,
		Remote:  remote,
		Created: time.Now(),
		nc:      nc,
	}
}

// Read reads from the underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	return c.nc.Read(p)
}

// Send writes all of p. After Close it fails with net.ErrClosed.
func (c *Conn) Send(p []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	_, err := c.nc.Write(p)
	return err
}

// Close closes the connection. Only the first call has an effect.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.nc.Close()
}

// Alive reports whether Close has not been called.
func (c *Conn) Alive() bool {
	return !c.closed.Load()
}
