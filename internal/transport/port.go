// Package transport provides the physical serial link to the radio: a
// Port abstraction over the actual device, a tarm/serial-backed
// implementation with raw 8N1 termios handling, a replay double for
// tests, and a generic single-goroutine transmit funnel.
package transport

import (
	"errors"
	"io"
	"time"
)

// ErrTimeout is returned by Port.Read when no bytes arrived within the
// configured read timeout. The link engine treats this as "no data yet",
// not a link failure.
var ErrTimeout = errors.New("transport: read timeout")

// Port is the minimal contract the link engine needs from a serial
// device: timed reads, writes, baud-rate changes, and close. Grounded
// on the teacher's internal/serial.Port interface (Read/Write/Close),
// extended with SetBaud for the TTS-100 handshake's 9600 -> 57600
// step-up (spec.md §4.9).
type Port interface {
	io.Writer
	// Read blocks up to the port's configured read timeout. It returns
	// ErrTimeout (wrapped or bare, checkable with errors.Is) if no bytes
	// arrived in that window, rather than treating a quiet line as EOF.
	Read(p []byte) (n int, err error)
	// SetBaud reconfigures the line speed; the Port stays usable
	// afterwards, though an implementation may reopen the underlying
	// device to apply it (serialPort does).
	SetBaud(baud int) error
	Close() error
}

// Config describes how to open a physical serial port.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}
