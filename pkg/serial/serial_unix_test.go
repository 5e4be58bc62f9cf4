//go:build linux || darwin

package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestBaudRateToSpeed(t *testing.T) {
	speed, custom, err := baudRateToSpeed(115200)
	assert.NoError(t, err)
	assert.Equal(t, uint32(unix.B115200), speed)
	assert.Zero(t, custom)

	_, custom, err = baudRateToSpeed(250000)
	assert.NoError(t, err)
	assert.Equal(t, 250000, custom)

	_, _, err = baudRateToSpeed(0)
	assert.Error(t, err)
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(Config{Device: "/dev/does-not-exist-autocal"})
	assert.Error(t, err)
}
