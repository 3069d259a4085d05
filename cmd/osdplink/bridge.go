package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timzifer/osdplink/config"
	"github.com/timzifer/osdplink/drivers/bundle"
	"github.com/timzifer/osdplink/internal/logging"
	"github.com/timzifer/osdplink/runtime/bridge"
	"github.com/timzifer/osdplink/runtime/connections"
)

func newBridgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Open the configured channels and run their bridges",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, cleanup, err := logging.Setup(cfg.Logging)
			if err != nil {
				return fmt.Errorf("setup logger: %w", err)
			}
			defer cleanup()
			log.Logger = logger

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runBridges(ctx, cfg, logger)
		},
	}
}

func runBridges(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if len(cfg.Bridges) == 0 {
		return errors.New("no bridges configured")
	}
	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Listen != "" {
		stop := serveMetrics(cfg.Telemetry.Listen, logger)
		defer stop()
	}

	manager, err := connections.NewManager(bundle.Registry(), connections.WithLogger(logger), connections.WithTelemetry(collector))
	if err != nil {
		return err
	}
	if err := manager.OpenAll(ctx, cfg.Channels); err != nil {
		manager.Close()
		return err
	}
	// Closing the channels releases receives blocked in a driver.
	closed := make(chan struct{})
	stopClose := context.AfterFunc(ctx, func() {
		defer close(closed)
		if err := manager.Close(); err != nil {
			logger.Error().Err(err).Msg("closing channels")
		}
	})
	defer func() {
		if stopClose() {
			manager.Close()
			return
		}
		<-closed
	}()

	bridges := make([]*bridge.Bridge, 0, len(cfg.Bridges))
	for _, bc := range cfg.Bridges {
		from, err := manager.Descriptor(bc.From)
		if err != nil {
			return err
		}
		to, err := manager.Descriptor(bc.To)
		if err != nil {
			return err
		}
		br, err := bridge.New(from, to,
			bridge.WithNames(bc.From, bc.To),
			bridge.WithBufferSize(bc.BufferSize()),
			bridge.WithInterval(bc.PollInterval()),
			bridge.WithLogger(logger.With().Str("bridge", bc.From+"<->"+bc.To).Logger()),
		)
		if err != nil {
			return err
		}
		bridges = append(bridges, br)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make([]error, len(bridges))
	var wg sync.WaitGroup
	for i, br := range bridges {
		wg.Add(1)
		go func(i int, br *bridge.Bridge) {
			defer wg.Done()
			if err := br.Run(ctx); err != nil {
				errs[i] = err
				cancel()
			}
		}(i, br)
	}
	logger.Info().Int("bridges", len(bridges)).Msg("bridges running")
	wg.Wait()
	for i, br := range bridges {
		stats := br.Stats()
		logger.Info().Str("from", cfg.Bridges[i].From).Str("to", cfg.Bridges[i].To).
			Uint64("a_to_b", stats.AToB).Uint64("b_to_a", stats.BToA).Msg("bridge stopped")
	}
	return errors.Join(errs...)
}

func serveMetrics(addr string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("listen", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("listen", addr).Msg("metrics server started")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
