//go:build darwin

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
	ioctlTCFlush    = unix.TIOCFLUSH
)

// portGlobs are where USB printer boards show up.
var portGlobs = []string{"/dev/cu.usbserial*", "/dev/cu.usbmodem*"}

func setSpeed(t *unix.Termios, speed uint32) {
	t.Ispeed = uint64(speed)
	t.Ospeed = uint64(speed)
}

// nonStandardSpeed opens at 9600 and lets setCustomBaudRate switch.
func nonStandardSpeed(baud int) (uint32, int, error) {
	return unix.B9600, baud, nil
}

// setCustomBaudRate uses IOSSIOSPEED, _IOW('T', 2, speed_t).
func setCustomBaudRate(fd int, baud int) error {
	const iossiospeed = 0x80045402
	return unix.IoctlSetPointerInt(fd, iossiospeed, baud)
}
