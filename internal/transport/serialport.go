package transport

import (
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// serialPort wraps github.com/tarm/serial. tarm/serial has no runtime
// baud-rate API, so SetBaud closes and reopens the device at the new
// rate, matching the TTS-100 handshake's step from 9600 to 57600 baud
// (spec.md §4.9). Grounded on the teacher's internal/serial.Open, which
// wraps the same library the same way.
type serialPort struct {
	mu     sync.Mutex
	device string
	cfg    Config
	port   io.ReadWriteCloser
}

// OpenSerialPort opens the device described by cfg.
func OpenSerialPort(cfg Config) (Port, error) {
	sp := &serialPort{device: cfg.Device, cfg: cfg}
	if err := sp.open(cfg.BaudRate); err != nil {
		return nil, err
	}
	return sp, nil
}

func (sp *serialPort) open(baud int) error {
	p, err := serial.OpenPort(&serial.Config{
		Name:        sp.device,
		Baud:        baud,
		ReadTimeout: sp.cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("transport: open %s at %d baud: %w", sp.device, baud, err)
	}
	sp.port = p
	sp.cfg.BaudRate = baud
	return nil
}

func (sp *serialPort) Read(p []byte) (int, error) {
	sp.mu.Lock()
	port := sp.port
	sp.mu.Unlock()
	n, err := port.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (sp *serialPort) Write(p []byte) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.port.Write(p)
}

func (sp *serialPort) SetBaud(baud int) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.cfg.BaudRate == baud {
		return nil
	}
	if err := sp.port.Close(); err != nil {
		return fmt.Errorf("transport: closing port before baud change: %w", err)
	}
	return sp.open(baud)
}

func (sp *serialPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.port.Close()
}
