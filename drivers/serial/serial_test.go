package serial

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	goserial "github.com/goburrow/serial"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
)

type fakePort struct {
	cfg     *goserial.Config
	rx      bytes.Buffer
	tx      bytes.Buffer
	closed  bool
	timeout bool
}

func (p *fakePort) Open(cfg *goserial.Config) error {
	p.cfg = cfg
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.rx.Len() == 0 {
		if p.timeout {
			return 0, goserial.ErrTimeout
		}
		return 0, errors.New("line down")
	}
	return p.rx.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.tx.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func opener(port *fakePort) Opener {
	return func(cfg *goserial.Config) (goserial.Port, error) {
		port.cfg = cfg
		return port, nil
	}
}

func TestSettingsDefaults(t *testing.T) {
	cfg, err := Settings{Address: "/dev/ttyUSB0", Parity: "e"}.Config()
	require.NoError(t, err)
	require.Equal(t, 9600, cfg.BaudRate)
	require.Equal(t, 8, cfg.DataBits)
	require.Equal(t, 1, cfg.StopBits)
	require.Equal(t, "E", cfg.Parity)
	require.Equal(t, 20*time.Millisecond, cfg.Timeout)

	_, err = Settings{}.Config()
	require.Error(t, err)
	_, err = Settings{Address: "COM3", Parity: "mark"}.Config()
	require.ErrorContains(t, err, "unsupported parity")
}

func TestOpenTimeoutIsEmptyRead(t *testing.T) {
	port := &fakePort{timeout: true}
	conn, err := Open(Settings{Address: "/dev/ttyS1"}, 11, opener(port))
	require.NoError(t, err)

	adapter := channel.New(conn)
	desc := adapter.Descriptor()
	require.Equal(t, int32(11), desc.ID)
	require.Equal(t, int32(0), desc.Recv(desc.Data, make([]byte, 4)))

	port.rx.Write([]byte{0x53, 0x00})
	buf := make([]byte, 4)
	require.Equal(t, int32(2), desc.Recv(desc.Data, buf))
	require.Equal(t, []byte{0x53, 0x00}, buf[:2])

	require.NoError(t, adapter.Close())
	require.True(t, port.closed)
}

func TestOpenLineErrorIsSentinel(t *testing.T) {
	port := &fakePort{}
	conn, err := Open(Settings{Address: "/dev/ttyS1", WriteBuffer: 16}, 1, opener(port))
	require.NoError(t, err)
	adapter := channel.New(conn)
	defer adapter.Close()

	desc := adapter.Descriptor()
	require.Equal(t, int32(-1), desc.Recv(desc.Data, make([]byte, 1)))

	require.Equal(t, int32(3), desc.Send(desc.Data, []byte{1, 2, 3}))
	require.Zero(t, port.tx.Len())
	desc.Flush(desc.Data)
	require.Equal(t, []byte{1, 2, 3}, port.tx.Bytes())
}

func TestFactoryDecodesSettings(t *testing.T) {
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("address: /dev/ttyUSB3\nbaud_rate: 115200\nrs485:\n  enabled: true\n  delay_rts_before_send: 1ms\n"), &node))

	port := &fakePort{}
	ch, err := newFactory(opener(port))(context.Background(), config.ChannelConfig{ID: "door-7", Settings: node.Content[0]}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, channel.StringID("/dev/ttyUSB3"), ch.ID())
	require.Equal(t, 115200, port.cfg.BaudRate)
	require.True(t, port.cfg.RS485.Enabled)
	require.Equal(t, time.Millisecond, port.cfg.RS485.DelayRtsBeforeSend)
}

func TestFactoryOpenFailure(t *testing.T) {
	failing := func(*goserial.Config) (goserial.Port, error) { return nil, errors.New("no such device") }
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("address: /dev/missing\n"), &node))
	_, err := newFactory(failing)(context.Background(), config.ChannelConfig{ID: "door-7", Settings: node.Content[0]}, zerolog.Nop())
	require.ErrorContains(t, err, "no such device")
}
