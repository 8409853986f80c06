package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// UDP is a datagram transport: each ReadSome call returns (at most) one
// complete datagram, and Flush actively drains anything still buffered in
// the kernel socket rather than merely waiting.
type UDP struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewUDP creates a UDP transport targeting addr ("host:port").
func NewUDP(addr string) *UDP {
	return &UDP{addr: addr}
}

func (u *UDP) Connect() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return nil
	}
	conn, err := net.Dial("udp", u.addr)
	if err != nil {
		return errors.Wrapf(err, "udp: dial %s", u.addr)
	}
	u.conn = conn
	return nil
}

func (u *UDP) Disconnect() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	return err
}

func (u *UDP) ReadSome(buf []byte, deadline time.Time) (int, error) {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return 0, errors.New("udp: not connected")
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

func (u *UDP) WriteAll(buf []byte) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return errors.New("udp: not connected")
	}
	_, err := conn.Write(buf)
	return err
}

// Flush drains any datagrams already queued in the socket so a stale
// retransmit cannot be mistaken for the next request's response.
func (u *UDP) Flush(d time.Duration) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
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

func (u *UDP) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil
}

func (u *UDP) IsDatagram() bool { return true }
