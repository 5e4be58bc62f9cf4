package serial

import (
	"bufio"
	stderrors "errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delta-autocal/pkg/errors"
)

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in, network, addr string
	}{
		{"", "", ""},
		{"/dev/ttyACM0", "serial", "/dev/ttyACM0"},
		{"COM3", "serial", "COM3"},
		{"unix:/tmp/printer.sock", "unix", "/tmp/printer.sock"},
		{"tcp:127.0.0.1:8250", "tcp", "127.0.0.1:8250"},
	}
	for _, c := range cases {
		n, a := ParseTarget(c.in)
		assert.Equal(t, c.network, n, c.in)
		assert.Equal(t, c.addr, a, c.in)
	}
}

func TestErrTimeoutIsTimeout(t *testing.T) {
	var te interface{ Timeout() bool }
	require.True(t, stderrors.As(ErrTimeout, &te))
	assert.True(t, te.Timeout())
}

func TestConnectWithoutDevice(t *testing.T) {
	_, err := Connect(Config{})
	assert.True(t, errors.Is(err, errors.ErrTransport))
}

// echoServer answers every line with "ok <line>".
func echoServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			if _, err := conn.Write([]byte("ok " + sc.Text() + "\n")); err != nil {
				return
			}
		}
	}()
}

func TestConnectSockets(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "printer.sock")
	unixLn, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { unixLn.Close() })

	tcpLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tcpLn.Close() })

	for _, tc := range []struct {
		name   string
		ln     net.Listener
		device string
	}{
		{"unix", unixLn, "unix:" + sock},
		{"tcp", tcpLn, "tcp:" + tcpLn.Addr().String()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			echoServer(t, tc.ln)
			p, err := Connect(Config{Device: tc.device, ReadTimeout: 50 * time.Millisecond})
			require.NoError(t, err)
			defer p.Close()

			buf := make([]byte, 64)
			_, err = p.Read(buf)
			assert.Equal(t, ErrTimeout, err, "idle read should time out")

			_, err = p.Write([]byte("G28\n"))
			require.NoError(t, err)
			var got []byte
			deadline := time.Now().Add(2 * time.Second)
			for len(got) < len("ok G28\n") && time.Now().Before(deadline) {
				n, err := p.Read(buf)
				if err == ErrTimeout {
					continue
				}
				require.NoError(t, err)
				got = append(got, buf[:n]...)
			}
			assert.Equal(t, "ok G28\n", string(got))
			assert.NoError(t, p.Flush())

			require.NoError(t, p.Close())
			_, err = p.Write([]byte("M500\n"))
			assert.Equal(t, ErrClosed, err)
		})
	}
}

func TestConnectRefused(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "absent.sock")
	start := time.Now()
	_, err := Connect(Config{Device: "unix:" + sock, ConnectTimeout: 200 * time.Millisecond})
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
