package stream

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnPollTimeoutReturnsZero(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	c := New(left, 3, WithPoll(10*time.Millisecond))
	defer c.Close()

	n, err := c.Read(make([]byte, 4))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int32(3), c.ID())
}

func TestConnBufferedWritesNeedFlush(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	c := New(left, 0, WithWriteBuffer(64))
	defer c.Close()

	n, err := c.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 3)
		_, _ = io.ReadFull(right, buf)
		got <- buf
	}()

	select {
	case <-got:
		t.Fatal("data arrived before flush")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, c.Flush())
	select {
	case buf := <-got:
		require.Equal(t, []byte{1, 2, 3}, buf)
	case <-time.After(time.Second):
		t.Fatal("flush did not deliver data")
	}
}

var errSlow = errors.New("slow line")

type stubPort struct{ err error }

func (s stubPort) Read([]byte) (int, error)    { return 0, s.err }
func (s stubPort) Write(p []byte) (int, error) { return len(p), nil }
func (stubPort) Close() error                  { return nil }

func TestConnCustomTimeoutCheck(t *testing.T) {
	c := New(stubPort{err: errSlow}, 0, WithTimeoutCheck(func(err error) bool { return errors.Is(err, errSlow) }))
	n, err := c.Read(make([]byte, 1))
	require.NoError(t, err)
	require.Zero(t, n)

	c = New(stubPort{err: io.ErrUnexpectedEOF}, 0)
	_, err = c.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NoError(t, c.Flush())
}

func TestConnCloseFailsBlockedRead(t *testing.T) {
	left, right := net.Pipe()
	defer right.Close()
	c := New(left, 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("read not unblocked")
	}
}
