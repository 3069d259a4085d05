// Package canbus carries a channel over a CAN bus through SocketCAN. Writes
// are cut into frames of at most eight bytes sent with the transmit id; reads
// return the payload of frames carrying the receive id. Every node on the same
// interface shares the identity derived from the interface name.
package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/runtime/connections"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("canbus: channel closed")

const maxPayload = 8

// Settings configure a CAN channel.
type Settings struct {
	Network   string          `yaml:"network,omitempty"`
	Interface string          `yaml:"interface"`
	TxID      uint32          `yaml:"tx_id"`
	RxID      uint32          `yaml:"rx_id"`
	Extended  bool            `yaml:"extended,omitempty"`
	Queue     int             `yaml:"queue,omitempty"`
	Timeout   config.Duration `yaml:"timeout,omitempty"`
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.Interface) == "" {
		return errors.New("canbus: interface is required")
	}
	limit := uint32(0x7ff)
	if s.Extended {
		limit = 0x1fffffff
	}
	if s.TxID > limit || s.RxID > limit {
		return fmt.Errorf("canbus: identifiers must not exceed %#x", limit)
	}
	if s.TxID == s.RxID {
		return errors.New("canbus: tx_id and rx_id must differ")
	}
	return nil
}

func (s Settings) timeout() time.Duration {
	if s.Timeout.Duration <= 0 {
		return time.Second
	}
	return s.Timeout.Duration
}

// Channel implements channel.Channel on top of a SocketCAN connection.
type Channel struct {
	conn     net.Conn
	tx       *socketcan.Transmitter
	settings Settings
	id       int32
	logger   zerolog.Logger

	frames chan can.Frame
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu     sync.Mutex
	rxErr  error
	closed bool

	// pending is the unread tail of a frame; guarded by the adapter lock.
	pending []byte
}

var _ channel.Channel = (*Channel)(nil)

// Dial opens the CAN interface named in settings.
func Dial(ctx context.Context, settings Settings, logger zerolog.Logger) (*Channel, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	network := settings.Network
	if network == "" {
		network = "can"
	}
	conn, err := socketcan.DialContext(ctx, network, settings.Interface)
	if err != nil {
		return nil, fmt.Errorf("canbus: dial %s: %w", settings.Interface, err)
	}
	return New(conn, settings, logger)
}

// New runs a channel over an established connection carrying SocketCAN
// frames. The channel owns conn.
func New(conn net.Conn, settings Settings, logger zerolog.Logger) (*Channel, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	queue := settings.Queue
	if queue <= 0 {
		queue = 256
	}
	c := &Channel{
		conn:     conn,
		tx:       socketcan.NewTransmitter(conn),
		settings: settings,
		id:       channel.StringID(settings.Interface),
		logger:   logger,
		frames:   make(chan can.Frame, queue),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.receive(socketcan.NewReceiver(conn))
	return c, nil
}

func (c *Channel) receive(rx *socketcan.Receiver) {
	defer c.wg.Done()
	for rx.Receive() {
		if rx.HasErrorFrame() {
			continue
		}
		frame := rx.Frame()
		if frame.IsRemote || frame.ID != c.settings.RxID || frame.IsExtended != c.settings.Extended {
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		default:
			c.logger.Warn().Uint32("can_id", frame.ID).Msg("canbus: receive queue full, frame dropped")
		}
	}
	c.mu.Lock()
	if !c.closed {
		c.rxErr = rx.Err()
		if c.rxErr == nil {
			c.rxErr = errors.New("canbus: receiver stopped")
		}
	}
	c.mu.Unlock()
}

// Read returns payload bytes of received frames; 0 bytes when none are queued.
func (c *Channel) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case <-c.done:
			return 0, ErrClosed
		case frame := <-c.frames:
			c.pending = append([]byte(nil), frame.Data[:frame.Length]...)
		default:
			c.mu.Lock()
			err := c.rxErr
			c.mu.Unlock()
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write transmits p as consecutive frames.
func (c *Channel) Write(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}
	written := 0
	for written < len(p) {
		chunk := p[written:]
		if len(chunk) > maxPayload {
			chunk = chunk[:maxPayload]
		}
		frame := can.Frame{ID: c.settings.TxID, Length: uint8(len(chunk)), IsExtended: c.settings.Extended}
		copy(frame.Data[:], chunk)
		ctx, cancel := context.WithTimeout(context.Background(), c.settings.timeout())
		err := c.tx.TransmitFrame(ctx, frame)
		cancel()
		if err != nil {
			return written, fmt.Errorf("canbus: transmit %#x: %w", c.settings.TxID, err)
		}
		written += len(chunk)
	}
	return written, nil
}

// Flush is a no-op; frames are transmitted by Write.
func (c *Channel) Flush() error { return nil }

// ID returns the identity derived from the interface name.
func (c *Channel) ID() int32 { return c.id }

// Close closes the connection and waits for the receiver to stop.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// NewFactory returns a factory for the canbus driver.
func NewFactory() connections.Factory {
	return func(ctx context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		ch, err := Dial(ctx, settings, logger)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", cfg.ID, err)
		}
		logger.Info().Str("interface", settings.Interface).Uint32("tx_id", settings.TxID).Uint32("rx_id", settings.RxID).Msg("canbus: interface opened")
		return ch, nil
	}
}
