//go:build linux

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
	ioctlTCFlush    = unix.TCFLSH
)

// portGlobs are where USB printer boards show up.
var portGlobs = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/serial/by-id/*"}

// setSpeed writes a Bnnn constant into CBAUD and the split speed fields.
func setSpeed(t *unix.Termios, speed uint32) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed
	t.Ispeed = speed
	t.Ospeed = speed
}

// nonStandardSpeed defers rates without a Bnnn constant (250000 on most
// Marlin boards) to setCustomBaudRate.
func nonStandardSpeed(baud int) (uint32, int, error) {
	return unix.B115200, baud, nil
}

// setCustomBaudRate sets an arbitrary rate through termios2 and BOTHER.
func setCustomBaudRate(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS2)
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= unix.BOTHER
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)
	return unix.IoctlSetTermios(fd, unix.TCSETS2, t)
}
