package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ConnTransport adapts an already-established net.Conn to the Transport
// interface. Unlike TCP, it never dials: a listener hands it a conn that is
// already live, so Connect is a no-op and Disconnect closes it once.
type ConnTransport struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewConnTransport wraps conn, typically one returned by a TCP listener's
// Accept, for a server engine to drive.
func NewConnTransport(conn net.Conn) *ConnTransport {
	return &ConnTransport{conn: conn}
}

func (c *ConnTransport) Connect() error { return nil }

func (c *ConnTransport) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *ConnTransport) ReadSome(buf []byte, deadline time.Time) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, errors.New("tcp_conn: closed")
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (c *ConnTransport) WriteAll(buf []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("tcp_conn: closed")
	}
	_, err := c.conn.Write(buf)
	return err
}

func (c *ConnTransport) Flush(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	discard := make([]byte, 512)
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return err
	}
	for {
		if _, err := c.conn.Read(discard); err != nil {
			break
		}
	}
	return c.conn.SetReadDeadline(time.Time{})
}

func (c *ConnTransport) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *ConnTransport) IsDatagram() bool { return false }
