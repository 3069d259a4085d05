package bridge

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/bus"
	"github.com/timzifer/osdplink/drivers/tcp"
)

type rig struct {
	cp, pd   *channel.Adapter
	bridgeA  *channel.Adapter
	bridgeB  *channel.Adapter
	adapters []*channel.Adapter
}

func newRig(t *testing.T) *rig {
	t.Helper()
	left, right := bus.New("left", 8), bus.New("right", 8)
	r := &rig{
		cp:      channel.New(left.Subscribe()),
		bridgeA: channel.New(left.Subscribe()),
		bridgeB: channel.New(right.Subscribe()),
		pd:      channel.New(right.Subscribe()),
	}
	r.adapters = []*channel.Adapter{r.cp, r.bridgeA, r.bridgeB, r.pd}
	t.Cleanup(func() {
		for _, a := range r.adapters {
			a.Close()
		}
	})
	return r
}

func readAll(t *testing.T, a *channel.Adapter, want int) []byte {
	t.Helper()
	var got []byte
	require.Eventually(t, func() bool {
		chunk, err := a.Read(64)
		if err != nil {
			return false
		}
		got = append(got, chunk...)
		return len(got) >= want
	}, 2*time.Second, time.Millisecond)
	return got
}

func TestBridgeForwardsBothDirections(t *testing.T) {
	r := newRig(t)
	br, err := New(r.bridgeA.Descriptor(), r.bridgeB.Descriptor(), WithInterval(time.Millisecond), WithBufferSize(4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	poll := []byte{0x53, 0x00, 0x08, 0x00, 0x06, 0x60, 0x00, 0x00}
	_, err = r.cp.Write(poll)
	require.NoError(t, err)
	require.Equal(t, poll, readAll(t, r.pd, len(poll)))

	reply := []byte{0x53, 0x80, 0x07, 0x00, 0x02, 0x40}
	_, err = r.pd.Write(reply)
	require.NoError(t, err)
	require.Equal(t, reply, readAll(t, r.cp, len(reply)))

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, Stats{AToB: uint64(len(poll)), BToA: uint64(len(reply))}, br.Stats())
}

func TestBridgeStopsWhenSideFails(t *testing.T) {
	r := newRig(t)
	br, err := New(r.bridgeA.Descriptor(), r.bridgeB.Descriptor(), WithNames("panel", "reader"), WithInterval(time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- br.Run(context.Background()) }()

	require.NoError(t, r.bridgeB.Close())
	select {
	case err := <-done:
		require.ErrorContains(t, err, "reader")
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNewRejectsIncompleteDescriptor(t *testing.T) {
	r := newRig(t)
	_, err := New(r.bridgeA.Descriptor(), channel.Descriptor{})
	require.ErrorContains(t, err, "descriptor b")

	_, err = New(r.bridgeA.Descriptor(), r.bridgeB.Descriptor(), WithBufferSize(0))
	require.Error(t, err)
	_, err = New(r.bridgeA.Descriptor(), r.bridgeB.Descriptor(), WithInterval(-time.Second))
	require.Error(t, err)
}

func TestBridgeRequestReplyOverDefaultTCPChannel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("address: "+ln.Addr().String()+"\n"), &node))
	ch, err := tcp.NewFactory()(context.Background(), config.ChannelConfig{ID: "panel", Driver: "tcp", Settings: node.Content[0]}, zerolog.Nop())
	require.NoError(t, err)
	panel := <-accepted
	require.NotNil(t, panel)
	defer panel.Close()

	line := bus.New("door-7", 8)
	tcpSide := channel.New(ch)
	busSide := channel.New(line.Subscribe())
	reader := channel.New(line.Subscribe())
	defer tcpSide.Close()
	defer busSide.Close()
	defer reader.Close()

	br, err := New(tcpSide.Descriptor(), busSide.Descriptor(), WithInterval(time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	_, err = panel.Write([]byte{0x53, 0x7f})
	require.NoError(t, err)
	require.Equal(t, []byte{0x53, 0x7f}, readAll(t, reader, 2))

	_, err = reader.Write([]byte{0x53, 0xff})
	require.NoError(t, err)
	require.NoError(t, panel.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply := make([]byte, 2)
	_, err = io.ReadFull(panel, reply)
	require.NoError(t, err)
	require.Equal(t, []byte{0x53, 0xff}, reply)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, Stats{AToB: 2, BToA: 2}, br.Stats())
}
