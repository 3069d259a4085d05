package channel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Adapter operations after Close.
var ErrClosed = errors.New("channel: adapter closed")

// RecvFunc reads up to len(buf) bytes into buf and returns the count, or -1.
type RecvFunc func(data Handle, buf []byte) int32

// SendFunc writes buf and returns the number of bytes written, or -1.
type SendFunc func(data Handle, buf []byte) int32

// FlushFunc flushes pending output. Failures are not reported.
type FlushFunc func(data Handle)

// Descriptor is the plain-data view of an Adapter consumed by the engine.
type Descriptor struct {
	ID    int32
	Data  Handle
	Recv  RecvFunc
	Send  SendFunc
	Flush FlushFunc
}

// Adapter owns one Channel and serialises all I/O on it.
//
// At most one read, write or flush runs against the channel at any time,
// regardless of how many goroutines (or native threads) invoke the callbacks.
// Which of two concurrent callers acquires the channel first is unspecified.
type Adapter struct {
	mu     sync.Mutex
	ch     Channel
	handle Handle
	closed atomic.Bool
}

// New wraps ch. No I/O is performed.
func New(ch Channel) *Adapter {
	a := &Adapter{ch: ch}
	a.handle = register(a)
	return a
}

// Handle returns the context value callbacks use to reach this adapter.
func (a *Adapter) Handle() Handle {
	return a.handle
}

// Descriptor returns a fresh descriptor. The identity is read from the channel
// on every call so channels with a mutable identity are observed.
func (a *Adapter) Descriptor() Descriptor {
	a.mu.Lock()
	id := a.ch.ID()
	a.mu.Unlock()
	return Descriptor{
		ID:    id,
		Data:  a.handle,
		Recv:  Recv,
		Send:  Send,
		Flush: Flush,
	}
}

// Close detaches the adapter from its Handle and closes the channel if it is
// an io.Closer. Close does not wait for in-flight operations: closing the
// channel is what unblocks a pending read, so channel Close methods must be
// safe to call concurrently with Read and Write, as net.Conn is.
//
// The engine must not be using the descriptor anymore when Close is called.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	unregister(a.handle)
	if closer, ok := a.ch.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Read reads up to n bytes from the channel under the lock.
func (a *Adapter) Read(n int) (data []byte, err error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	scratch := make([]byte, n)
	a.mu.Lock()
	defer a.mu.Unlock()
	defer recoverInto(&err)
	read, err := a.ch.Read(scratch)
	if read < 0 || read > n {
		return nil, fmt.Errorf("channel: invalid read count %d for buffer of %d", read, n)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return scratch[:read], nil
}

// Write writes a private copy of p to the channel under the lock.
func (a *Adapter) Write(p []byte) (n int, err error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	scratch := make([]byte, len(p))
	copy(scratch, p)
	a.mu.Lock()
	defer a.mu.Unlock()
	defer recoverInto(&err)
	written, err := a.ch.Write(scratch)
	if written < 0 || written > len(p) {
		return 0, fmt.Errorf("channel: invalid write count %d for buffer of %d", written, len(p))
	}
	return written, err
}

// Flush flushes the channel under the lock.
func (a *Adapter) Flush() (err error) {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	defer recoverInto(&err)
	return a.ch.Flush()
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("channel: panic in transport: %v", r)
	}
}

// Recv is the receive callback placed in every Descriptor. An unknown or
// detached handle, any transport error and any panic all yield -1; nothing is
// copied into buf in that case.
func Recv(data Handle, buf []byte) (n int32) {
	defer func() {
		if recover() != nil {
			n = -1
		}
	}()
	a, ok := lookup(data)
	if !ok {
		return -1
	}
	read, err := a.Read(len(buf))
	if err != nil {
		return -1
	}
	return int32(copy(buf, read))
}

// Send is the send callback placed in every Descriptor.
func Send(data Handle, buf []byte) (n int32) {
	defer func() {
		if recover() != nil {
			n = -1
		}
	}()
	a, ok := lookup(data)
	if !ok {
		return -1
	}
	written, err := a.Write(buf)
	if err != nil {
		return -1
	}
	return int32(written)
}

// Flush is the flush callback placed in every Descriptor. Errors are dropped.
func Flush(data Handle) {
	defer func() { _ = recover() }()
	a, ok := lookup(data)
	if !ok {
		return
	}
	_ = a.Flush()
}
