// Package tcp provides point-to-point channels over TCP, typically to a
// serial-device server in front of an RS-485 line.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/stream"
	"github.com/timzifer/osdplink/runtime/connections"
)

// Settings configure a TCP channel.
type Settings struct {
	Address     string          `yaml:"address"`
	Listen      bool            `yaml:"listen,omitempty"`
	Poll        config.Duration `yaml:"poll,omitempty"`
	DialTimeout config.Duration `yaml:"dial_timeout,omitempty"`
	MaxElapsed  config.Duration `yaml:"max_elapsed,omitempty"`
	WriteBuffer int             `yaml:"write_buffer,omitempty"`
	NoDelay     *bool           `yaml:"no_delay,omitempty"`
}

func (s Settings) poll() time.Duration {
	if s.Poll.Duration <= 0 {
		return stream.DefaultPoll
	}
	return s.Poll.Duration
}

// DialOptions control connection establishment.
type DialOptions struct {
	// Timeout bounds a single connection attempt. Zero means 5s.
	Timeout time.Duration
	// MaxElapsed bounds the total time spent retrying. Zero disables retries.
	MaxElapsed time.Duration
	// Logger receives retry notifications.
	Logger zerolog.Logger
}

// Dial connects to addr, retrying with exponential backoff until
// opts.MaxElapsed has passed or ctx is done. The identity is derived from addr.
func Dial(ctx context.Context, addr string, opts DialOptions, streamOpts ...stream.Option) (*stream.Conn, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("tcp: address is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if opts.MaxElapsed > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 100 * time.Millisecond
		exp.MaxInterval = 5 * time.Second
		exp.MaxElapsedTime = opts.MaxElapsed
		policy = exp
	}

	conn, err := backoff.RetryNotifyWithData(func() (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		opts.Logger.Warn().Err(err).Str("address", addr).Dur("retry_in", wait).Msg("tcp: dial failed")
	})
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return stream.New(conn, channel.StringID(addr), streamOpts...), nil
}

// Accept listens on addr, waits for a single peer and closes the listener.
// The identity is derived from addr.
func Accept(ctx context.Context, addr string, streamOpts ...stream.Option) (*stream.Conn, error) {
	ln, err := Listen(addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return AcceptOn(ctx, ln, addr, streamOpts...)
}

// Listen opens a TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	return ln, nil
}

// AcceptOn waits for one peer on ln. The identity is derived from key.
func AcceptOn(ctx context.Context, ln net.Listener, key string, streamOpts ...stream.Option) (*stream.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tcp: accept %s: %w", ln.Addr(), err)
	}
	return stream.New(conn, channel.StringID(key), streamOpts...), nil
}

// NewFactory returns a factory for the tcp driver.
func NewFactory() connections.Factory {
	return func(ctx context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		if settings.Address == "" {
			return nil, fmt.Errorf("tcp: channel %s: settings.address is required", cfg.ID)
		}
		streamOpts := []stream.Option{
			stream.WithPoll(settings.poll()),
			stream.WithWriteBuffer(settings.WriteBuffer),
		}

		var conn *stream.Conn
		var err error
		if settings.Listen {
			logger.Info().Str("address", settings.Address).Msg("tcp: waiting for peer")
			conn, err = Accept(ctx, settings.Address, streamOpts...)
		} else {
			conn, err = Dial(ctx, settings.Address, DialOptions{
				Timeout:    settings.DialTimeout.Duration,
				MaxElapsed: settings.MaxElapsed.Duration,
				Logger:     logger,
			}, streamOpts...)
		}
		if err != nil {
			return nil, err
		}
		if settings.NoDelay != nil {
			if tcpConn, ok := conn.Underlying().(*net.TCPConn); ok {
				if err := tcpConn.SetNoDelay(*settings.NoDelay); err != nil {
					_ = conn.Close()
					return nil, fmt.Errorf("tcp: channel %s: set no_delay: %w", cfg.ID, err)
				}
			}
		}
		logger.Info().Str("address", settings.Address).Msg("tcp: connected")
		return conn, nil
	}
}
