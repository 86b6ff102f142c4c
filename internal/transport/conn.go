package transport

import (
	"bufio"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// Conn is a pooled client connection. Reads go through a buffered reader
// that outlives individual responses, so bytes left over from one exchange
// are visible to the stale check.
type Conn struct {
	net.Conn
	br     *bufio.Reader
	probe  bool
	closed atomic.Bool
}

func newConn(c net.Conn, probe bool) *Conn {
	return &Conn{Conn: c, br: bufio.NewReader(c), probe: probe}
}

// Reader returns the buffered reader responses must be parsed from.
func (c *Conn) Reader() *bufio.Reader { return c.br }

func (c *Conn) Read(p []byte) (int, error) { return c.br.Read(p) }

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.Conn.Close()
}

func (c *Conn) IsOpen() bool { return !c.closed.Load() }

// IsStale reports whether the connection is unfit for a new exchange: it
// holds unread bytes, or the peer has closed it. Only call it while nobody
// is reading from the connection.
func (c *Conn) IsStale() bool {
	if c.closed.Load() {
		return true
	}
	if c.br.Buffered() > 0 {
		return true
	}
	if !c.probe {
		return false
	}

	if err := c.Conn.SetReadDeadline(time.Now()); err != nil {
		return true
	}
	defer c.Conn.SetReadDeadline(time.Time{})

	_, err := c.br.Peek(1)
	if err == nil {
		// unsolicited data from the server
		return true
	}
	var ne net.Error
	return !(errors.As(err, &ne) && ne.Timeout())
}
