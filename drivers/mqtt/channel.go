// Package mqtt carries a channel over an MQTT broker, so that a control panel
// and its readers can share a virtual multi-drop line across hosts.
package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("mqtt: channel closed")

// Channel publishes writes to a topic and queues messages from another one.
// It implements channel.Channel.
type Channel struct {
	client   mqtt.Client
	settings Settings
	id       int32
	logger   zerolog.Logger
	owned    bool

	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64

	// pending is the unread tail of a message; guarded by the adapter lock.
	pending []byte
}

var _ channel.Channel = (*Channel)(nil)

// New subscribes to settings.RxTopic on client. The client must already be
// connected. The identity is derived from the receive topic.
func New(client mqtt.Client, settings Settings, logger zerolog.Logger) (*Channel, error) {
	if client == nil {
		return nil, errors.New("mqtt: client is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	c := &Channel{
		client:   client,
		settings: settings,
		id:       channel.StringID(settings.RxTopic),
		logger:   logger,
		queue:    make(chan []byte, settings.queueSize()),
		done:     make(chan struct{}),
	}
	if err := c.subscribe(client); err != nil {
		return nil, err
	}
	return c, nil
}

// Dial connects to the broker described by settings and returns a channel
// that disconnects the client on Close.
func Dial(settings Settings, logger zerolog.Logger) (*Channel, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	var c *Channel
	var mu sync.Mutex
	resubscribe := func(client mqtt.Client) {
		mu.Lock()
		current := c
		mu.Unlock()
		if current == nil {
			return
		}
		if err := current.subscribe(client); err != nil {
			logger.Error().Err(err).Str("topic", settings.RxTopic).Msg("mqtt: resubscribe failed")
		}
	}
	client, err := connect(settings.Connection, logger, resubscribe)
	if err != nil {
		return nil, err
	}
	created, err := New(client, settings, logger)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	created.owned = true
	mu.Lock()
	c = created
	mu.Unlock()
	return created, nil
}

func (c *Channel) subscribe(client mqtt.Client) error {
	token := client.Subscribe(c.settings.RxTopic, c.settings.QoS, c.handle)
	if !token.WaitTimeout(c.settings.publishTimeout()) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", c.settings.RxTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", c.settings.RxTopic, err)
	}
	return nil
}

func (c *Channel) handle(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	if len(payload) == 0 {
		return
	}
	select {
	case <-c.done:
	case c.queue <- payload:
	default:
		// paho delivers on its own goroutine; blocking here would stall
		// every subscription of the client.
		c.dropped.Add(1)
		c.logger.Warn().Str("topic", msg.Topic()).Int("bytes", len(payload)).Msg("mqtt: receive queue full, message dropped")
	}
}

// Read returns queued message bytes. Without the blocking setting an empty
// queue yields 0 bytes.
func (c *Channel) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case <-c.done:
			return 0, ErrClosed
		default:
		}
		if c.settings.Blocking {
			select {
			case data := <-c.queue:
				c.pending = data
			case <-c.done:
				return 0, ErrClosed
			}
		} else {
			select {
			case data := <-c.queue:
				c.pending = data
			default:
				return 0, nil
			}
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write publishes p as one message and waits for the publish to complete.
func (c *Channel) Write(p []byte) (int, error) {
	select {
	case <-c.done:
		return 0, ErrClosed
	default:
	}
	token := c.client.Publish(c.settings.TxTopic, c.settings.QoS, false, append([]byte(nil), p...))
	if !token.WaitTimeout(c.settings.publishTimeout()) {
		return 0, fmt.Errorf("mqtt: publish %s: timeout", c.settings.TxTopic)
	}
	if err := token.Error(); err != nil {
		return 0, fmt.Errorf("mqtt: publish %s: %w", c.settings.TxTopic, err)
	}
	return len(p), nil
}

// Flush is a no-op; every write is its own message.
func (c *Channel) Flush() error { return nil }

// ID returns the identity derived from the receive topic.
func (c *Channel) ID() int32 { return c.id }

// Dropped reports messages discarded because the receive queue was full.
func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Close unsubscribes and, for channels created by Dial, disconnects.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		token := c.client.Unsubscribe(c.settings.RxTopic)
		if token.WaitTimeout(c.settings.publishTimeout()) {
			err = token.Error()
		}
		if c.owned {
			c.client.Disconnect(250)
		}
	})
	return err
}
