//go:build !linux && !darwin

package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// nativePort wraps tarm/serial on platforms without termios.
type nativePort struct {
	port *serial.Port
}

// ListPorts is not supported here; name the port explicitly.
func ListPorts() ([]string, error) {
	return nil, nil
}

// Open opens the port through tarm/serial. The parity reset closes the
// odd-parity handle before reopening, since Windows will not share a
// COM port between two handles.
func Open(cfg Config) (Port, error) {
	cfg.applyDefaults()
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Parity:      serial.ParityNone,
	}
	if cfg.ParityReset {
		odd := *sc
		odd.Parity = serial.ParityOdd
		tmp, err := serial.OpenPort(&odd)
		if err != nil {
			return nil, fmt.Errorf("serial: odd parity reset on %s: %w", cfg.Device, err)
		}
		tmp.Close()
	}
	port, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &nativePort{port: port}, nil
}

// Read maps an empty timed-out read to ErrTimeout.
func (p *nativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (p *nativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *nativePort) Close() error {
	return p.port.Close()
}

// Flush drops buffered input and output.
func (p *nativePort) Flush() error {
	return p.port.Flush()
}
