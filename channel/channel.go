package channel

import "io"

// Channel is the transport capability required by an Adapter.
//
// Read and Write follow the io.Reader and io.Writer contracts; whether they
// block is up to the implementation. Flush pushes out any buffered output.
// ID reports the identity the engine uses to tell connections apart on a
// multi-drop bus.
type Channel interface {
	io.Reader
	io.Writer
	Flush() error
	ID() int32
}

type composed struct {
	io.ReadWriter
	id    int32
	flush func() error
}

func (c *composed) ID() int32 { return c.id }

func (c *composed) Flush() error {
	if c.flush == nil {
		return nil
	}
	return c.flush()
}

func (c *composed) Close() error {
	if closer, ok := c.ReadWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// WithID turns any io.ReadWriter into a Channel with the given identity.
//
// If rw has a Flush method (for example a *bufio.ReadWriter) it is used for
// Flush, otherwise Flush is a no-op. Close is forwarded when rw is an
// io.Closer.
func WithID(rw io.ReadWriter, id int32) Channel {
	c := &composed{ReadWriter: rw, id: id}
	if f, ok := rw.(interface{ Flush() error }); ok {
		c.flush = f.Flush
	}
	return c
}

// WithName is WithID with the identity derived from key.
func WithName(rw io.ReadWriter, key string) Channel {
	return WithID(rw, StringID(key))
}
