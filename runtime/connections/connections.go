package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
)

// ErrUnknownDriver is returned when no factory is registered for a driver.
var ErrUnknownDriver = errors.New("connections: unknown driver")

// Factory opens the transport described by cfg.
//
// The returned channel should implement io.Closer when it holds resources;
// Close must be safe to call while a Read is blocked.
type Factory func(ctx context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error)

// Registry maps driver names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under driver, replacing any previous entry.
func (r *Registry) Register(driver string, factory Factory) {
	driver = normalize(driver)
	r.mu.Lock()
	defer r.mu.Unlock()
	if factory == nil {
		delete(r.factories, driver)
		return
	}
	r.factories[driver] = factory
}

// Drivers lists the registered driver names in sorted order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the channel for cfg. A configured channel_id replaces the
// identity reported by the driver.
func (r *Registry) Open(ctx context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(cfg.Driver)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("channel %s: %w %q", cfg.ID, ErrUnknownDriver, cfg.Driver)
	}
	ch, err := factory(ctx, cfg, logger.With().Str("channel", cfg.ID).Str("driver", cfg.Driver).Logger())
	if err != nil {
		return nil, err
	}
	if cfg.ChannelID != nil {
		ch = &fixedID{Channel: ch, id: *cfg.ChannelID}
	}
	return ch, nil
}

func normalize(driver string) string {
	return strings.ToLower(strings.TrimSpace(driver))
}

type fixedID struct {
	channel.Channel
	id int32
}

func (f *fixedID) ID() int32 { return f.id }

func (f *fixedID) Close() error {
	if closer, ok := f.Channel.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
