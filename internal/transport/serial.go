package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Serial is the RTU transport: a single serial port opened at a fixed baud,
// byte size, parity and stop-bit configuration.
type Serial struct {
	portName string
	mode     *serial.Mode

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a Serial transport for portName ("/dev/ttyUSB0", "COM3")
// at the given baud rate, 8 data bits / no parity / 1 stop bit (the
// overwhelmingly common RTU line configuration).
func NewSerial(portName string, baud int) *Serial {
	return &Serial{
		portName: portName,
		mode: &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := serial.Open(s.portName, s.mode)
	if err != nil {
		return errors.Wrapf(err, "serial: open %s", s.portName)
	}
	s.port = port
	return nil
}

func (s *Serial) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *Serial) ReadSome(buf []byte, deadline time.Time) (int, error) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return 0, errors.New("serial: not connected")
	}
	timeout := time.Until(deadline)
	if timeout < 0 {
		timeout = 0
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return port.Read(buf)
}

func (s *Serial) WriteAll(buf []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return errors.New("serial: not connected")
	}
	_, err := port.Write(buf)
	return err
}

// Flush discards both the OS input and output buffers for the port, then
// honors the settle duration -- the RTU equivalent of the teacher's
// "clear response buffer before retry" step.
func (s *Serial) Flush(d time.Duration) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	if err := port.ResetInputBuffer(); err != nil {
		return err
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return err
	}
	if d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

func (s *Serial) IsDatagram() bool { return false }
