package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/hsearch/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the hsearch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", version.Module(), version.Current(), version.Runtime())
			return err
		},
	}
	return cmd
}
