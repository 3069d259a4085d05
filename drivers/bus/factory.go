package bus

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/runtime/connections"
)

// Settings configure a bus endpoint.
type Settings struct {
	Name         string          `yaml:"name,omitempty"`
	Blocking     bool            `yaml:"blocking,omitempty"`
	WriteTimeout config.Duration `yaml:"write_timeout,omitempty"`
}

// NewFactory returns a factory attaching endpoints to process-wide buses.
// The bus name defaults to the channel id.
func NewFactory() connections.Factory {
	return func(_ context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(settings.Name)
		if name == "" {
			name = cfg.ID
		}
		b := Get(name)
		if settings.WriteTimeout.Duration > 0 {
			b.SetWriteTimeout(settings.WriteTimeout.Duration)
		}
		logger.Debug().Str("bus", name).Int("subscribers", b.Subscribers()).Msg("bus: attaching endpoint")
		if settings.Blocking {
			return b.SubscribeBlocking(), nil
		}
		return b.Subscribe(), nil
	}
}
