package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/timzifer/osdplink/drivers/bundle"
	"github.com/timzifer/osdplink/runtime/connections"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print channel identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			registry := bundle.Registry()
			known := make(map[string]struct{})
			for _, driver := range registry.Drivers() {
				known[driver] = struct{}{}
			}
			for _, ch := range cfg.Channels {
				if _, ok := known[strings.ToLower(strings.TrimSpace(ch.Driver))]; !ok {
					return fmt.Errorf("channel %s: %w %q", ch.ID, connections.ErrUnknownDriver, ch.Driver)
				}
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "CHANNEL\tDRIVER\tIDENTITY")
			if dryRun {
				for _, ch := range cfg.Channels {
					identity := "derived"
					if ch.ChannelID != nil {
						identity = fmt.Sprint(*ch.ChannelID)
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", ch.ID, ch.Driver, identity)
				}
				return out.Flush()
			}

			manager, err := connections.NewManager(registry, connections.WithLogger(zerolog.Nop()))
			if err != nil {
				return err
			}
			defer manager.Close()
			if err := manager.OpenAll(cmd.Context(), cfg.Channels); err != nil {
				return err
			}
			for _, ch := range cfg.Channels {
				desc, err := manager.Descriptor(ch.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\t%d\n", ch.ID, ch.Driver, desc.ID)
			}
			if err := out.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d channels, %d bridges OK\n", len(cfg.Channels), len(cfg.Bridges))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without opening any transport")
	return cmd
}
