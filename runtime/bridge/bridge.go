// Package bridge forwards bytes between two channel descriptors, which lets a
// control panel on one transport talk to peripherals on another.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
)

const (
	// DefaultBufferSize is the size of the per-direction receive buffer.
	DefaultBufferSize = 256
	// DefaultInterval is the pause after a poll that returned no bytes.
	DefaultInterval = 10 * time.Millisecond
)

// Option configures a Bridge.
type Option func(*Bridge) error

// WithBufferSize sets the receive buffer size of each direction.
func WithBufferSize(n int) Option {
	return func(b *Bridge) error {
		if n <= 0 {
			return fmt.Errorf("bridge: buffer size must be positive, got %d", n)
		}
		b.bufferSize = n
		return nil
	}
}

// WithInterval sets the idle poll interval.
func WithInterval(d time.Duration) Option {
	return func(b *Bridge) error {
		if d <= 0 {
			return fmt.Errorf("bridge: interval must be positive, got %s", d)
		}
		b.interval = d
		return nil
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) error {
		b.logger = logger
		return nil
	}
}

// WithNames labels both sides in errors and logs. The defaults are "a" and "b".
func WithNames(a, b string) Option {
	return func(br *Bridge) error {
		br.sides[0].name = a
		br.sides[1].name = b
		return nil
	}
}

type side struct {
	name      string
	desc      channel.Descriptor
	forwarded atomic.Uint64
}

// Bridge copies bytes received on either side to the other.
type Bridge struct {
	sides      [2]*side
	bufferSize int
	interval   time.Duration
	logger     zerolog.Logger
}

// Stats reports the bytes forwarded from each side.
type Stats struct {
	AToB uint64
	BToA uint64
}

// New creates a bridge between a and b.
func New(a, b channel.Descriptor, opts ...Option) (*Bridge, error) {
	for name, desc := range map[string]channel.Descriptor{"a": a, "b": b} {
		if desc.Recv == nil || desc.Send == nil || desc.Flush == nil {
			return nil, fmt.Errorf("bridge: descriptor %s is incomplete", name)
		}
	}
	br := &Bridge{
		sides:      [2]*side{{name: "a", desc: a}, {name: "b", desc: b}},
		bufferSize: DefaultBufferSize,
		interval:   DefaultInterval,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(br); err != nil {
			return nil, err
		}
	}
	return br, nil
}

// Stats returns the forwarded byte counts.
func (br *Bridge) Stats() Stats {
	return Stats{AToB: br.sides[0].forwarded.Load(), BToA: br.sides[1].forwarded.Load()}
}

// Run forwards in both directions until ctx is cancelled or a side fails.
// Cancellation returns nil. Run returns once both directions stopped, so
// blocking endpoints must be closed to release a pending receive.
func (br *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range br.sides {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := br.pump(ctx, br.sides[i], br.sides[1-i]); err != nil {
				errs[i] = err
				cancel()
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (br *Bridge) pump(ctx context.Context, from, to *side) error {
	buf := make([]byte, br.bufferSize)
	logger := br.logger.With().Str("from", from.name).Str("to", to.name).Logger()
	for {
		if ctx.Err() != nil {
			return nil
		}
		n := from.desc.Recv(from.desc.Data, buf)
		if n < 0 {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: receive from %s failed", from.name)
		}
		if n == 0 {
			if !sleep(ctx, br.interval) {
				return nil
			}
			continue
		}
		if err := br.forward(ctx, to, buf[:n]); err != nil {
			return err
		}
		from.forwarded.Add(uint64(n))
		logger.Trace().Int32("bytes", n).Msg("bridge: forwarded")
	}
}

func (br *Bridge) forward(ctx context.Context, to *side, p []byte) error {
	for len(p) > 0 {
		n := to.desc.Send(to.desc.Data, p)
		if n < 0 {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: send to %s failed", to.name)
		}
		p = p[n:]
		if n == 0 && !sleep(ctx, br.interval) {
			return nil
		}
	}
	to.desc.Flush(to.desc.Data)
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
