package serial

import (
	stderrors "errors"
	"net"
	"sync"
	"syscall"
	"time"
)

// socketPort is a Unix or TCP stream that reads like a serial port.
type socketPort struct {
	conn        net.Conn
	readTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// dialSocket connects, retrying while the listener is not up yet.
func dialSocket(network, addr string, cfg Config) (*socketPort, error) {
	deadline := time.Now().Add(cfg.ConnectTimeout)
	for {
		conn, err := net.DialTimeout(network, addr, cfg.ConnectTimeout)
		if err == nil {
			return &socketPort{conn: conn, readTimeout: cfg.ReadTimeout}, nil
		}
		retry := stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ENOENT)
		if !retry || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (p *socketPort) Read(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(buf)
	var ne net.Error
	if n == 0 && stderrors.As(err, &ne) && ne.Timeout() {
		return 0, ErrTimeout
	}
	return n, err
}

func (p *socketPort) Write(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	return p.conn.Write(buf)
}

// Flush is a no-op; sockets have no line discipline buffers.
func (p *socketPort) Flush() error { return nil }

func (p *socketPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

func (p *socketPort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
