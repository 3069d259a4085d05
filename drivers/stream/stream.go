// Package stream turns connection-like values (sockets, pipes, serial ports)
// into channel.Channel implementations shared by the point-to-point drivers.
package stream

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/timzifer/osdplink/channel"
)

// DefaultPoll is the read bound the socket drivers apply when no poll is
// configured. A bridge or engine holds the adapter lock for the whole read, so
// a read that never returns would starve writes in the other direction.
const DefaultPoll = 20 * time.Millisecond

// Option configures a Conn.
type Option func(*Conn)

// WithPoll bounds every read to d. A read that times out without data
// returns 0 bytes and no error, which is what a polling engine expects.
func WithPoll(d time.Duration) Option {
	return func(c *Conn) {
		c.poll = d
	}
}

// WithWriteBuffer buffers writes until Flush.
func WithWriteBuffer(size int) Option {
	return func(c *Conn) {
		if size > 0 {
			c.w = bufio.NewWriterSize(c.rw, size)
		}
	}
}

// WithTimeoutCheck adds a predicate recognising driver-specific timeout
// errors, for transports that do not return net.Error.
func WithTimeoutCheck(fn func(error) bool) Option {
	return func(c *Conn) {
		c.isTimeout = fn
	}
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// Conn adapts an io.ReadWriteCloser into a channel.Channel.
type Conn struct {
	rw        io.ReadWriteCloser
	w         *bufio.Writer
	id        int32
	poll      time.Duration
	isTimeout func(error) bool
}

var _ channel.Channel = (*Conn)(nil)

// New wraps rw with the given identity.
func New(rw io.ReadWriteCloser, id int32, opts ...Option) *Conn {
	c := &Conn{rw: rw, id: id}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Read reads from the underlying connection.
func (c *Conn) Read(p []byte) (int, error) {
	if c.poll > 0 {
		if d, ok := c.rw.(readDeadliner); ok {
			if err := d.SetReadDeadline(time.Now().Add(c.poll)); err != nil {
				return 0, err
			}
		}
	}
	n, err := c.rw.Read(p)
	if err != nil && c.timedOut(err) {
		return n, nil
	}
	return n, err
}

func (c *Conn) timedOut(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return c.isTimeout != nil && c.isTimeout(err)
}

// Write writes p, buffered when WithWriteBuffer was given.
func (c *Conn) Write(p []byte) (int, error) {
	if c.w != nil {
		return c.w.Write(p)
	}
	return c.rw.Write(p)
}

// Flush pushes out buffered writes.
func (c *Conn) Flush() error {
	if c.w == nil {
		return nil
	}
	return c.w.Flush()
}

// ID returns the identity given to New.
func (c *Conn) ID() int32 { return c.id }

// Underlying returns the wrapped connection.
func (c *Conn) Underlying() io.ReadWriteCloser { return c.rw }

// Close closes the underlying connection, failing any blocked read.
func (c *Conn) Close() error {
	return c.rw.Close()
}
