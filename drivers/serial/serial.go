// Package serial provides channels over RS-232/RS-485 serial lines.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goserial "github.com/goburrow/serial"
	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/stream"
	"github.com/timzifer/osdplink/runtime/connections"
)

// RS485Settings configure driver-enable handling on RS-485 adapters.
type RS485Settings struct {
	Enabled            bool            `yaml:"enabled"`
	DelayRTSBeforeSend config.Duration `yaml:"delay_rts_before_send,omitempty"`
	DelayRTSAfterSend  config.Duration `yaml:"delay_rts_after_send,omitempty"`
	RTSHighDuringSend  bool            `yaml:"rts_high_during_send,omitempty"`
	RTSHighAfterSend   bool            `yaml:"rts_high_after_send,omitempty"`
	RxDuringTx         bool            `yaml:"rx_during_tx,omitempty"`
}

// Settings configure a serial channel.
type Settings struct {
	Address     string          `yaml:"address"`
	BaudRate    int             `yaml:"baud_rate,omitempty"`
	DataBits    int             `yaml:"data_bits,omitempty"`
	StopBits    int             `yaml:"stop_bits,omitempty"`
	Parity      string          `yaml:"parity,omitempty"`
	Timeout     config.Duration `yaml:"timeout,omitempty"`
	WriteBuffer int             `yaml:"write_buffer,omitempty"`
	RS485       RS485Settings   `yaml:"rs485,omitempty"`
}

// Config translates the settings into a port configuration, applying the
// 9600 8N1 defaults used by OSDP readers.
func (s Settings) Config() (*goserial.Config, error) {
	if strings.TrimSpace(s.Address) == "" {
		return nil, errors.New("serial: address is required")
	}
	cfg := &goserial.Config{
		Address:  s.Address,
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   strings.ToUpper(strings.TrimSpace(s.Parity)),
		Timeout:  s.Timeout.Duration,
		RS485: goserial.RS485Config{
			Enabled:            s.RS485.Enabled,
			DelayRtsBeforeSend: s.RS485.DelayRTSBeforeSend.Duration,
			DelayRtsAfterSend:  s.RS485.DelayRTSAfterSend.Duration,
			RtsHighDuringSend:  s.RS485.RTSHighDuringSend,
			RtsHighAfterSend:   s.RS485.RTSHighAfterSend,
			RxDuringTx:         s.RS485.RxDuringTx,
		},
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	switch cfg.Parity {
	case "":
		cfg.Parity = "N"
	case "N", "E", "O":
	default:
		return nil, fmt.Errorf("serial: unsupported parity %q", s.Parity)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Millisecond
	}
	return cfg, nil
}

// Opener opens a port. A nil Opener means goserial.Open.
type Opener func(*goserial.Config) (goserial.Port, error)

// Open opens the serial line described by settings with the given identity.
// Read timeouts surface as zero-byte reads.
func Open(settings Settings, id int32, open Opener) (*stream.Conn, error) {
	cfg, err := settings.Config()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = goserial.Open
	}
	port, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Address, err)
	}
	return stream.New(port, id,
		stream.WithWriteBuffer(settings.WriteBuffer),
		stream.WithTimeoutCheck(isTimeout),
	), nil
}

func isTimeout(err error) bool {
	return errors.Is(err, goserial.ErrTimeout)
}

// NewFactory returns a factory for the serial driver. Serial lines have no
// natural name-based identity; the channel id defaults to the identity derived
// from the device address, and channel_id overrides it.
func NewFactory() connections.Factory {
	return newFactory(nil)
}

func newFactory(open Opener) connections.Factory {
	return func(_ context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		conn, err := Open(settings, channel.StringID(settings.Address), open)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", cfg.ID, err)
		}
		logger.Info().Str("address", settings.Address).Int("baud_rate", settings.BaudRate).Msg("serial: port opened")
		return conn, nil
	}
}
