package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/hsearch/api"
)

func newIndexCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "index",
		Aliases: []string{"indexes"},
		Short:   "List and manage indexes",
	}
	cmd.AddCommand(newIndexListCommand(app))
	cmd.AddCommand(newIndexDeleteCommand(app))
	cmd.AddCommand(newIndexOperationCommand(app, "copy", api.OperationCopy))
	cmd.AddCommand(newIndexOperationCommand(app, "move", api.OperationMove))
	cmd.AddCommand(newIndexClearCommand(app))
	cmd.AddCommand(newIndexSettingsCommand(app))
	return cmd
}

func newIndexListCommand(app *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			res, err := s.client.ListIndexes(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENTRIES\tSIZE\tUPDATED")
			for _, item := range res.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					item.Name,
					humanize.Comma(item.Entries),
					humanize.Bytes(uint64(max(item.DataSize, 0))),
					humanTime(item.UpdatedAt),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func humanTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func newIndexDeleteCommand(app *cli) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "delete <index>",
		Short: "Delete an index and its settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			task, err := idx.Delete(cmd.Context())
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
		},
	}
	wf.register(cmd, false)
	return cmd
}

func newIndexOperationCommand(app *cli, use, op string) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   use + " <src> <dst>",
		Short: fmt.Sprintf("%s an index, overwriting the destination", op),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			var task *api.TaskResponse
			if op == api.OperationMove {
				task, err = s.client.MoveIndex(cmd.Context(), args[0], args[1])
			} else {
				task, err = s.client.CopyIndex(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), s.client.InitIndex(args[1]), task)
		},
	}
	wf.register(cmd, false)
	return cmd
}

func newIndexClearCommand(app *cli) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "clear <index>",
		Short: "Remove every object, keeping settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			task, err := idx.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
		},
	}
	wf.register(cmd, false)
	return cmd
}

func newIndexSettingsCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or update index settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <index>",
		Short: "Print index settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			settings, err := s.client.InitIndex(args[0]).GetSettings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), settings)
		},
	})

	var wf writeFlags
	set := &cobra.Command{
		Use:   "set <index>",
		Short: "Merge settings from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, wf.data, wf.file)
			if err != nil {
				return err
			}
			var settings api.Settings
			if err := json.Unmarshal(payload, &settings); err != nil {
				return fmt.Errorf("settings must be a JSON object: %w", err)
			}
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			task, err := idx.SetSettings(cmd.Context(), settings)
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
		},
	}
	wf.register(set, true)
	cmd.AddCommand(set)
	return cmd
}
