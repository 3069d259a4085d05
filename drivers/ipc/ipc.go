// Package ipc provides channels over local inter-process sockets: Unix domain
// sockets, or named pipes on Windows. The identity defaults to the one derived
// from the socket path, so both ends of a socket agree on it.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/stream"
	"github.com/timzifer/osdplink/runtime/connections"
)

// Settings configure an IPC channel.
type Settings struct {
	Path        string          `yaml:"path"`
	Listen      bool            `yaml:"listen,omitempty"`
	Poll        config.Duration `yaml:"poll,omitempty"`
	DialTimeout config.Duration `yaml:"dial_timeout,omitempty"`
	WriteBuffer int             `yaml:"write_buffer,omitempty"`
}

func (s Settings) options() []stream.Option {
	poll := s.Poll.Duration
	if poll <= 0 {
		poll = stream.DefaultPoll
	}
	return []stream.Option{stream.WithPoll(poll), stream.WithWriteBuffer(s.WriteBuffer)}
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, opts ...stream.Option) (*stream.Conn, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ipc: path is required")
	}
	conn, err := dial(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return stream.New(conn, channel.StringID(path), opts...), nil
}

// Listener accepts peers on a local socket.
type Listener struct {
	path string
	ln   net.Listener
	once sync.Once
}

// Listen creates the socket at path.
func Listen(path string) (*Listener, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ipc: path is required")
	}
	ln, err := listen(path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", path, err)
	}
	return &Listener{path: path, ln: ln}, nil
}

// Accept waits for the next peer. Cancelling ctx closes the listener.
func (l *Listener) Accept(ctx context.Context, opts ...stream.Option) (*stream.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ipc: accept on %s: %w", l.path, err)
	}
	return stream.New(conn, channel.StringID(l.path), opts...), nil
}

// Addr returns the socket path.
func (l *Listener) Addr() string { return l.path }

// Close removes the socket.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() { err = l.ln.Close() })
	return err
}

// NewFactory returns a factory for the ipc driver. In listen mode the
// factory waits for exactly one peer and then stops listening.
func NewFactory() connections.Factory {
	return func(ctx context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		if settings.Path == "" {
			return nil, fmt.Errorf("ipc: channel %s: settings.path is required", cfg.ID)
		}
		if !settings.Listen {
			if settings.DialTimeout.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, settings.DialTimeout.Duration)
				defer cancel()
			}
			conn, err := Dial(ctx, settings.Path, settings.options()...)
			if err != nil {
				return nil, err
			}
			logger.Info().Str("path", settings.Path).Msg("ipc: connected")
			return conn, nil
		}

		ln, err := Listen(settings.Path)
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		logger.Info().Str("path", settings.Path).Msg("ipc: waiting for peer")
		start := time.Now()
		conn, err := ln.Accept(ctx, settings.options()...)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", settings.Path).Dur("waited", time.Since(start)).Msg("ipc: peer connected")
		return conn, nil
	}
}
