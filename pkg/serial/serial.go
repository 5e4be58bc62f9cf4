// Package serial opens the link to the printer: a USB serial device, or
// a Unix or TCP socket such as the one the mock printer serves.
package serial

import (
	stderrors "errors"
	"io"
	"strings"
	"time"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/log"
)

// Port is an open printer link.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and unsent output.
	Flush() error
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "serial: read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Common errors. Reads that see no data within the read timeout return
// ErrTimeout, whose Timeout method reports true; line readers poll
// through it.
var (
	ErrTimeout error = timeoutError{}
	ErrClosed        = stderrors.New("serial: port closed")
)

// Config holds link configuration.
type Config struct {
	// Device path (/dev/ttyACM0, COM3), "unix:<path>" or "tcp:<host:port>"
	Device string

	BaudRate int

	// ReadTimeout bounds a single Read; it is a polling interval, not a
	// response deadline.
	ReadTimeout time.Duration

	// ConnectTimeout bounds socket connection retries.
	ConnectTimeout time.Duration

	// ParityReset briefly opens the port with odd parity before settling
	// on 8N1. Mini Delta USB bridges do not answer until this happens.
	ParityReset bool

	// RTS is the RTS line level after opening. macOS hosts need it low.
	RTS bool
}

// DefaultConfig returns the Mini Delta link settings.
func DefaultConfig() Config {
	return Config{
		BaudRate:       115200,
		ReadTimeout:    500 * time.Millisecond,
		ConnectTimeout: 10 * time.Second,
		ParityReset:    true,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
}

var logger = log.GetLogger("serial")

// Connect opens cfg.Device. Socket targets are recognised by their
// "unix:" or "tcp:" prefix; anything else is a serial device.
func Connect(cfg Config) (Port, error) {
	cfg.applyDefaults()
	network, addr := ParseTarget(cfg.Device)
	var (
		p   Port
		err error
	)
	switch network {
	case "":
		return nil, errors.TransportError("open", stderrors.New("no serial port given"))
	case "serial":
		p, err = Open(cfg)
	default:
		p, err = dialSocket(network, addr, cfg)
	}
	if err != nil {
		return nil, errors.TransportError("open "+cfg.Device, err)
	}
	logger.WithFields(log.Fields{"device": cfg.Device, "baud": cfg.BaudRate}).Infof("connected")
	return p, nil
}

// ParseTarget splits a device string into a network and an address.
func ParseTarget(device string) (network, addr string) {
	switch {
	case device == "":
		return "", ""
	case strings.HasPrefix(device, "unix:"):
		return "unix", strings.TrimPrefix(device, "unix:")
	case strings.HasPrefix(device, "tcp:"):
		return "tcp", strings.TrimPrefix(device, "tcp:")
	}
	return "serial", device
}

// Detect returns the only serial port on the machine. With none or
// several present the caller has to name one.
func Detect() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", errors.TransportError("list ports", err)
	}
	switch len(ports) {
	case 0:
		return "", errors.TransportError("detect", stderrors.New("no serial ports found"))
	case 1:
		return ports[0], nil
	}
	return "", errors.TransportError("detect",
		stderrors.New("several serial ports found, choose one of "+strings.Join(ports, ", ")))
}
