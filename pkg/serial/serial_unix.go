//go:build linux || darwin

package serial

import (
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// parityHold is how long the port stays in odd parity during a reset.
const parityHold = 50 * time.Millisecond

// termiosPort is a tty in raw 8N1. The saved settings are put back on
// Close.
type termiosPort struct {
	mu      sync.Mutex
	fd      int
	wait    time.Duration
	closed  bool
	restore *unix.Termios
}

// ListPorts returns the USB serial devices present, symlinks resolved
// and duplicates dropped.
func ListPorts() ([]string, error) {
	var ports []string
	for _, glob := range portGlobs {
		matches, _ := filepath.Glob(glob)
		for _, m := range matches {
			if target, err := filepath.EvalSymlinks(m); err == nil {
				m = target
			}
			if !slices.Contains(ports, m) {
				ports = append(ports, m)
			}
		}
	}
	slices.Sort(ports)
	return ports, nil
}

// makeRaw is cfmakeraw plus CLOCAL: 8 data bits, no parity, no echo,
// no line editing or flow control.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	// Reads return whatever has arrived after at most 0.1s.
	t.Cc[unix.VMIN], t.Cc[unix.VTIME] = 0, 1
}

// Open puts cfg.Device into raw 8N1 at cfg.BaudRate. With ParityReset
// the port first spends parityHold in odd parity.
func Open(cfg Config) (Port, error) {
	cfg.applyDefaults()
	speed, custom, err := baudRateToSpeed(cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	saved, err := configure(fd, cfg, speed, custom)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: %s: %w", cfg.Device, err)
	}

	p := &termiosPort{fd: fd, wait: cfg.ReadTimeout, restore: saved}
	p.setModemLines(cfg.RTS, true)
	if err := p.Flush(); err != nil {
		logger.Debug("flush %s: %v", cfg.Device, err)
	}
	return p, nil
}

// configure applies the line settings and returns the previous ones.
func configure(fd int, cfg Config, speed uint32, custom int) (*unix.Termios, error) {
	saved, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("get termios: %w", err)
	}
	raw := *saved
	makeRaw(&raw)
	setSpeed(&raw, speed)

	if cfg.ParityReset {
		odd := raw
		odd.Cflag |= unix.PARENB | unix.PARODD
		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &odd); err != nil {
			return nil, fmt.Errorf("odd parity reset: %w", err)
		}
		time.Sleep(parityHold)
	}
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, fmt.Errorf("set termios: %w", err)
	}
	if custom > 0 {
		if err := setCustomBaudRate(fd, custom); err != nil {
			return nil, fmt.Errorf("set %d baud: %w", custom, err)
		}
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		return nil, fmt.Errorf("set blocking: %w", err)
	}
	return saved, nil
}

// handle returns the fd, or ErrClosed.
func (p *termiosPort) handle() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return -1, ErrClosed
	}
	return p.fd, nil
}

// Read polls for up to the read timeout. A quiet line gives ErrTimeout;
// a hangup (USB cable pulled, board reset) gives io.EOF.
func (p *termiosPort) Read(buf []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ready, err := unix.Poll(fds, int(p.wait.Milliseconds()))
	switch {
	case stderrors.Is(err, unix.EINTR), err == nil && ready == 0:
		return 0, ErrTimeout
	case err != nil:
		return 0, fmt.Errorf("serial: poll: %w", err)
	case fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
		return 0, io.EOF
	}
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

func (p *termiosPort) Write(buf []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(fd, buf)
	if err != nil {
		return n, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

func (p *termiosPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.restore != nil {
		unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.restore)
	}
	return unix.Close(p.fd)
}

// Flush drops anything queued in either direction, such as the start
// banner a board prints after the parity reset.
func (p *termiosPort) Flush() error {
	fd, err := p.handle()
	if err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, ioctlTCFlush, unix.TCIOFLUSH)
}

// setModemLines drives RTS and DTR. Bridges without modem lines fail
// TIOCMGET, which is ignored.
func (p *termiosPort) setModemLines(rts, dtr bool) {
	var bits int32
	ioctl := func(req uintptr) bool {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), req, uintptr(unsafe.Pointer(&bits)))
		return errno == 0
	}
	if !ioctl(unix.TIOCMGET) {
		return
	}
	for _, line := range []struct {
		mask int32
		on   bool
	}{{unix.TIOCM_RTS, rts}, {unix.TIOCM_DTR, dtr}} {
		if line.on {
			bits |= line.mask
		} else {
			bits &^= line.mask
		}
	}
	ioctl(unix.TIOCMSET)
}

var standardSpeeds = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

// baudRateToSpeed returns the termios speed constant, plus a custom rate
// to apply after the port is configured when baud has no constant.
func baudRateToSpeed(baud int) (uint32, int, error) {
	if baud <= 0 {
		return 0, 0, fmt.Errorf("serial: unsupported baud rate %d", baud)
	}
	if speed, ok := standardSpeeds[baud]; ok {
		return speed, 0, nil
	}
	return nonStandardSpeed(baud)
}
