package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultDialRetries mirrors the teacher transport's retry-on-dial count.
const DefaultDialRetries = 5

// TCP is a stream transport over a single long-lived net.Conn, redialed on
// demand when not connected.
type TCP struct {
	addr         string
	dialTimeout  time.Duration
	dialRetries  int

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates a TCP transport that dials addr ("host:port") on Connect.
func NewTCP(addr string, dialTimeout time.Duration) *TCP {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &TCP{addr: addr, dialTimeout: dialTimeout, dialRetries: DefaultDialRetries}
}

func (t *TCP) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: t.dialTimeout}
	var lastErr error
	for retry := t.dialRetries; retry > 0; retry-- {
		conn, err := dialer.Dial("tcp", t.addr)
		if err == nil {
			t.conn = conn
			return nil
		}
		lastErr = err
	}
	return errors.Wrapf(lastErr, "tcp: dial %s", t.addr)
}

func (t *TCP) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCP) ReadSome(buf []byte, deadline time.Time) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, errors.New("tcp: not connected")
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

func (t *TCP) WriteAll(buf []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("tcp: not connected")
	}
	_, err := conn.Write(buf)
	return err
}

// Flush drains any bytes already queued in the socket's receive buffer so
// a late reply to a prior, abandoned try cannot be mistaken for the
// response to the next one.
func (t *TCP) Flush(d time.Duration) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	discard := make([]byte, 512)
	deadline := time.Now().Add(d)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		_, err := conn.Read(discard)
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}
	return conn.SetReadDeadline(time.Time{})
}

func (t *TCP) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *TCP) IsDatagram() bool { return false }
