// Package bus implements an in-process broadcast bus. Every endpoint of a bus
// receives the bytes written by all other endpoints, which models a
// multi-drop RS-485 line between goroutines. All endpoints of a bus share the
// identity derived from the bus name.
package bus

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timzifer/osdplink/channel"
)

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("bus: endpoint closed")
	// ErrQueueFull is returned when a subscriber queue stays full for longer
	// than the bus write timeout.
	ErrQueueFull = errors.New("bus: subscriber queue full")
)

const (
	// DefaultCapacity is the number of queued writes per endpoint.
	DefaultCapacity = 64
	// DefaultWriteTimeout bounds how long a write waits for a full subscriber
	// queue. Writers hold their adapter lock while waiting, so two endpoints
	// with full queues writing to each other would otherwise never return.
	DefaultWriteTimeout = time.Second
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Bus)
)

// Bus fans writes out to its endpoints.
type Bus struct {
	name     string
	id       int32
	capacity int
	timeout  atomic.Int64

	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// Get returns the process-wide bus registered under name, creating it with
// DefaultCapacity on first use.
func Get(name string) *Bus {
	registryMu.Lock()
	defer registryMu.Unlock()
	if b, ok := registry[name]; ok {
		return b
	}
	b := New(name, DefaultCapacity)
	registry[name] = b
	return b
}

// New creates a standalone bus that is not reachable through Get.
func New(name string, capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Bus{
		name:      name,
		id:        channel.StringID(name),
		capacity:  capacity,
		endpoints: make(map[*Endpoint]struct{}),
	}
	b.timeout.Store(int64(DefaultWriteTimeout))
	return b
}

// SetWriteTimeout changes how long writes wait for a full subscriber queue.
// Non-positive values restore DefaultWriteTimeout.
func (b *Bus) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	b.timeout.Store(int64(d))
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Subscribers returns the number of open endpoints.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

// Subscribe attaches a new endpoint. Reads on the endpoint return 0 bytes when
// nothing is queued; use SubscribeBlocking for blocking reads.
func (b *Bus) Subscribe() *Endpoint {
	return b.subscribe(false)
}

// SubscribeBlocking attaches an endpoint whose reads wait for data.
func (b *Bus) SubscribeBlocking() *Endpoint {
	return b.subscribe(true)
}

func (b *Bus) subscribe(blocking bool) *Endpoint {
	e := &Endpoint{
		bus:      b,
		blocking: blocking,
		queue:    make(chan []byte, b.capacity),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *Bus) publish(from *Endpoint, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for e := range b.endpoints {
		if e == from {
			continue
		}
		select {
		case e.queue <- data:
			continue
		default:
		}
		if timer == nil {
			timer = time.NewTimer(time.Duration(b.timeout.Load()))
		}
		select {
		case e.queue <- data:
		case <-e.done:
		case <-from.done:
			return ErrClosed
		case <-timer.C:
			return fmt.Errorf("%w on bus %s", ErrQueueFull, b.name)
		}
	}
	return nil
}

func (b *Bus) remove(e *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, e)
	b.mu.Unlock()
}

// Endpoint is one participant on a Bus. It implements channel.Channel.
type Endpoint struct {
	bus      *Bus
	blocking bool
	queue    chan []byte
	done     chan struct{}
	once     sync.Once

	// pending holds the unread tail of a queued write; guarded by the
	// adapter lock, not by the endpoint.
	pending []byte
}

var _ channel.Channel = (*Endpoint)(nil)

// Read copies queued bytes into p. Writes are delivered in order; a write
// larger than p is returned across several reads.
func (e *Endpoint) Read(p []byte) (int, error) {
	if len(e.pending) == 0 {
		select {
		case <-e.done:
			return 0, ErrClosed
		default:
		}
		if e.blocking {
			select {
			case data := <-e.queue:
				e.pending = data
			case <-e.done:
				return 0, ErrClosed
			}
		} else {
			select {
			case data := <-e.queue:
				e.pending = data
			default:
				return 0, nil
			}
		}
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

// Write broadcasts a copy of p to every other endpoint, waiting while a
// subscriber queue is full. When a queue stays full past the write timeout the
// write fails with ErrQueueFull; endpoints served before it keep the data.
func (e *Endpoint) Write(p []byte) (int, error) {
	select {
	case <-e.done:
		return 0, ErrClosed
	default:
	}
	if len(p) == 0 {
		return 0, nil
	}
	data := append([]byte(nil), p...)
	if err := e.bus.publish(e, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush is a no-op; writes are delivered immediately.
func (e *Endpoint) Flush() error { return nil }

// ID returns the identity shared by all endpoints of the bus.
func (e *Endpoint) ID() int32 { return e.bus.id }

// Close detaches the endpoint and unblocks pending reads and writes.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.bus.remove(e)
	})
	return nil
}

var _ io.Closer = (*Endpoint)(nil)
