package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/timzifer/osdplink/channel"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id <key>...",
		Short: "Print the channel identity derived from each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, key := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", key, channel.StringID(key))
			}
			return nil
		},
	}
}
