package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/hsearch/client"
	"pkt.systems/hsearch/hostpool"
)

func newHostsCommand(app *cli) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Show the configured hosts and their health",
		Long: `Print the read and write host lists in failover order. With --check a
ListIndexes call is made first so the health column reflects a live
attempt instead of an empty tracker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if check {
				if _, err := s.client.ListIndexes(cmd.Context()); err != nil {
					s.logger.Warn("cli.hosts.check_failed", "error", err)
					fmt.Fprintf(cmd.ErrOrStderr(), "check failed: %v\n", err)
				}
			}
			return printHostTable(cmd.OutOrStdout(), s.client)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "issue a ListIndexes request before printing")
	return cmd
}

func printHostTable(w io.Writer, c *client.Client) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tHOST\tSTATE\tCHANGED\tELIGIBLE")
	for _, role := range []hostpool.Role{hostpool.Read, hostpool.Write} {
		eligible := c.EligibleHosts(role)
		hosts := c.ReadHosts()
		if role == hostpool.Write {
			hosts = c.WriteHosts()
		}
		for _, host := range hosts {
			state, changed := "unknown", "-"
			if st, ok := c.HostStatus(host); ok {
				state = "down"
				if st.Up {
					state = "up"
				}
				changed = humanize.Time(st.LastChange)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", role, host, state, changed, slices.Contains(eligible, host))
		}
	}
	return tw.Flush()
}
