// Line-oriented command channel to the printer
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"bufio"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"
	"time"

	"delta-autocal/pkg/errors"
	"delta-autocal/pkg/log"
)

// Channel is the request/response surface of the printer.
type Channel interface {
	SendCommand(ctx context.Context, text string) error
	ReadLine(ctx context.Context) (string, error)
	AwaitMarker(ctx context.Context, marker string) (string, error)
}

// Tracer sees every line crossing the channel. dir is ">" for sent
// and "<" for received lines.
type Tracer func(dir, line string)

type lineResult struct {
	line string
	err  error
}

// Conn is a Channel over a byte stream. A reader goroutine splits the
// stream into lines so reads can be cancelled.
type Conn struct {
	w      io.Writer
	closer io.Closer

	wmu   sync.Mutex
	lines chan lineResult
	done  chan struct{}
	once  sync.Once

	lineTimeout time.Duration
	tracers     []Tracer
	logger      *log.Logger

	// sticky read error once the pump has stopped
	readErr error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLineTimeout bounds how long ReadLine waits for a single line.
// Zero waits for as long as ctx allows.
func WithLineTimeout(d time.Duration) Option {
	return func(c *Conn) { c.lineTimeout = d }
}

// WithTracer adds a line tracer.
func WithTracer(t Tracer) Option {
	return func(c *Conn) { c.tracers = append(c.tracers, t) }
}

// NewConn starts reading rw. If rw is also an io.Closer, Close closes it.
func NewConn(rw io.ReadWriter, opts ...Option) *Conn {
	c := &Conn{
		w:      rw,
		lines:  make(chan lineResult, 256),
		done:   make(chan struct{}),
		logger: log.GetLogger("gcode"),
	}
	if cl, ok := rw.(io.Closer); ok {
		c.closer = cl
	}
	for _, o := range opts {
		o(c)
	}
	go c.pump(rw)
	return c
}

// timeoutError is satisfied by transports whose reads expire without
// data, such as a serial port with a read deadline.
type timeoutError interface {
	Timeout() bool
}

func (c *Conn) pump(r io.Reader) {
	br := bufio.NewReader(r)
	var partial strings.Builder
	for {
		chunk, err := br.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if !c.deliver(lineResult{line: line}) {
				return
			}
			continue
		}
		var te timeoutError
		if stderrors.As(err, &te) && te.Timeout() {
			continue
		}
		if err == io.EOF && partial.Len() > 0 {
			line := strings.TrimRight(partial.String(), "\r\n")
			partial.Reset()
			if !c.deliver(lineResult{line: line}) {
				return
			}
		}
		c.deliver(lineResult{err: err})
		return
	}
}

func (c *Conn) deliver(r lineResult) bool {
	select {
	case c.lines <- r:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) trace(dir, line string) {
	for _, t := range c.tracers {
		t(dir, line)
	}
}

// SendCommand writes one line. It does not wait for any reply.
func (c *Conn) SendCommand(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.logger.Debug("> %s", text)
	c.trace(">", text)
	if _, err := io.WriteString(c.w, text+"\n"); err != nil {
		return errors.TransportError("write", err)
	}
	return nil
}

// ReadLine returns the next line without its terminator.
func (c *Conn) ReadLine(ctx context.Context) (string, error) {
	if c.readErr != nil {
		return "", c.readErr
	}
	var expire <-chan time.Time
	if c.lineTimeout > 0 {
		t := time.NewTimer(c.lineTimeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case r := <-c.lines:
		if r.err != nil {
			c.readErr = errors.TransportError("read", r.err)
			return "", c.readErr
		}
		c.logger.Debug("< %s", r.line)
		c.trace("<", r.line)
		return r.line, nil
	case <-expire:
		return "", errors.TransportError("read",
			stderrors.New("no response within "+c.lineTimeout.String()))
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", errors.TransportError("read", io.ErrClosedPipe)
	}
}

// AwaitMarker reads until a line contains marker and returns that line.
func (c *Conn) AwaitMarker(ctx context.Context, marker string) (string, error) {
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		if strings.Contains(line, marker) {
			return line, nil
		}
	}
}

// Exec sends a command and waits for its "ok".
func (c *Conn) Exec(ctx context.Context, text string) error {
	_, err := c.Query(ctx, text)
	return err
}

// Query sends a command and collects every line printed before its
// "ok". Firmware error lines seen before the acknowledgement fail the
// command.
func (c *Conn) Query(ctx context.Context, text string) ([]string, error) {
	if err := c.SendCommand(ctx, text); err != nil {
		return nil, err
	}
	var out []string
	for {
		line, err := c.ReadLine(ctx)
		if err != nil {
			return out, err
		}
		switch {
		case strings.HasPrefix(line, "ok"):
			return out, nil
		case strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "!!"):
			return out, errors.ProtocolError(line, "firmware rejected "+text)
		}
		out = append(out, line)
	}
}

// Drain discards n lines.
func (c *Conn) Drain(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.ReadLine(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the reader and closes the transport.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.closer != nil {
			err = c.closer.Close()
		}
	})
	return err
}
