package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/telemetry"
)

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets the logger passed to driver factories.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithTelemetry instruments every opened channel with collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(m *Manager) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		m.collector = collector
		return nil
	}
}

// Manager opens configured channels, wraps each into an adapter and owns the
// adapters until Close.
type Manager struct {
	registry  *Registry
	logger    zerolog.Logger
	collector telemetry.Collector

	mu       sync.Mutex
	adapters map[string]*channel.Adapter
	order    []string
}

// NewManager creates a manager backed by registry.
func NewManager(registry *Registry, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("connections: registry is required")
	}
	m := &Manager{
		registry:  registry,
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		adapters:  make(map[string]*channel.Adapter),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open opens a single channel and registers its adapter under cfg.ID.
func (m *Manager) Open(ctx context.Context, cfg config.ChannelConfig) (*channel.Adapter, error) {
	m.mu.Lock()
	_, exists := m.adapters[cfg.ID]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("channel %s: already open", cfg.ID)
	}

	ch, err := m.registry.Open(ctx, cfg, m.logger)
	if err != nil {
		return nil, err
	}
	adapter := channel.New(telemetry.Instrument(ch, m.collector, cfg.ID))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[cfg.ID]; exists {
		_ = adapter.Close()
		return nil, fmt.Errorf("channel %s: already open", cfg.ID)
	}
	m.adapters[cfg.ID] = adapter
	m.order = append(m.order, cfg.ID)
	m.logger.Info().Str("channel", cfg.ID).Str("driver", cfg.Driver).Int32("identity", adapter.Descriptor().ID).Msg("channel opened")
	return adapter, nil
}

// OpenAll opens every channel in cfgs. On failure the channels opened by this
// call are closed again.
func (m *Manager) OpenAll(ctx context.Context, cfgs []config.ChannelConfig) error {
	opened := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		if _, err := m.Open(ctx, cfg); err != nil {
			for _, id := range opened {
				_ = m.CloseChannel(id)
			}
			return err
		}
		opened = append(opened, cfg.ID)
	}
	return nil
}

// Adapter returns the adapter registered under id.
func (m *Manager) Adapter(id string) (*channel.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	adapter, ok := m.adapters[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: not open", id)
	}
	return adapter, nil
}

// Descriptor returns a fresh descriptor for the channel registered under id.
func (m *Manager) Descriptor(id string) (channel.Descriptor, error) {
	adapter, err := m.Adapter(id)
	if err != nil {
		return channel.Descriptor{}, err
	}
	return adapter.Descriptor(), nil
}

// IDs lists open channels in opening order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// CloseChannel closes and forgets a single channel.
func (m *Manager) CloseChannel(id string) error {
	m.mu.Lock()
	adapter, ok := m.adapters[id]
	if ok {
		delete(m.adapters, id)
		for i, existing := range m.order {
			if existing == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.logger.Info().Str("channel", id).Msg("channel closed")
	return adapter.Close()
}

// Close closes all channels in reverse opening order.
func (m *Manager) Close() error {
	ids := m.IDs()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.CloseChannel(ids[i]); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ids[i], err))
		}
	}
	return errors.Join(errs...)
}
