package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/telemetry"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "osdplink",
		Short:         "Expose byte transports as OSDP channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "osdplink.yaml", "Path to configuration file")
	cmd.AddCommand(newIDCmd(), newCheckCmd(opts), newBridgeCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return cfg, nil
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
