package mqtt

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/osdplink/channel"
	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/runtime/connections"
)

// NewFactory returns a factory for the mqtt driver. Each channel owns its
// own broker connection.
func NewFactory() connections.Factory {
	return func(_ context.Context, cfg config.ChannelConfig, logger zerolog.Logger) (channel.Channel, error) {
		var settings Settings
		if err := cfg.DecodeSettings(&settings); err != nil {
			return nil, err
		}
		if settings.Connection.Broker == "" {
			return nil, fmt.Errorf("mqtt: channel %s: connection.broker is required", cfg.ID)
		}
		if settings.Connection.ClientID == "" {
			settings.Connection.ClientID = "osdplink-" + cfg.ID
		}
		ch, err := Dial(settings, logger)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", cfg.ID, err)
		}
		logger.Info().Str("broker", settings.Connection.Broker).Str("rx_topic", settings.RxTopic).Str("tx_topic", settings.TxTopic).Msg("mqtt: channel ready")
		return ch, nil
	}
}
