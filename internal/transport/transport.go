// Package transport defines the narrow capability contract the client and
// server engines drive: connect, write, bounded read, flush, and
// connection-state reporting, plus a stream/datagram flag. Concrete
// transports (TCP, UDP, RTU serial) live alongside this contract; the
// engines only ever see the interface.
package transport

import "time"

// Transport is the abstract capability set required by the client and
// server engines (spec §6 "Transport interface"). A read may return part
// of a frame or nothing at all; the engines accumulate bytes across reads
// and treat a datagram transport's single read as a complete frame attempt.
type Transport interface {
	Connect() error
	Disconnect() error

	// ReadSome reads whatever is currently available into buf, blocking no
	// longer than until deadline. It returns the number of bytes read; 0,
	// nil is a valid "nothing arrived before the deadline" result.
	ReadSome(buf []byte, deadline time.Time) (int, error)

	// WriteAll writes buf in its entirety or returns an error.
	WriteAll(buf []byte) error

	// Flush discards any buffered/in-flight bytes, waiting up to d for the
	// underlying device to settle.
	Flush(d time.Duration) error

	IsConnected() bool
	IsDatagram() bool
}
