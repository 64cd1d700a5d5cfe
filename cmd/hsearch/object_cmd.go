package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
)

func newObjectCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Read and write individual objects",
	}
	cmd.AddCommand(newObjectGetCommand(app))
	cmd.AddCommand(newObjectSaveCommand(app))
	cmd.AddCommand(newObjectUpdateCommand(app))
	cmd.AddCommand(newObjectDeleteCommand(app))
	return cmd
}

func newObjectGetCommand(app *cli) *cobra.Command {
	var attributes []string
	cmd := &cobra.Command{
		Use:   "get <index> <objectID>...",
		Short: "Fetch one or more objects",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			if len(args) == 2 {
				obj, err := idx.GetObject(cmd.Context(), args[1], attributes...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), obj)
			}
			objs, err := idx.GetObjects(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), objs)
		},
	}
	cmd.Flags().StringSliceVar(&attributes, "attributes", nil, "attributes to retrieve (single object only)")
	return cmd
}

type writeFlags struct {
	data string
	file string
	wait bool
}

func (w *writeFlags) register(cmd *cobra.Command, withPayload bool) {
	if withPayload {
		cmd.Flags().StringVar(&w.data, "data", "", "JSON document")
		cmd.Flags().StringVarP(&w.file, "file", "f", "", "read the JSON document from a file (- for stdin)")
	}
	cmd.Flags().BoolVar(&w.wait, "wait", false, "wait until the write is published")
}

// finish prints the task and optionally waits for it.
func (w *writeFlags) finish(ctx context.Context, out io.Writer, idx *client.Index, task *api.TaskResponse) error {
	if w.wait {
		if err := idx.WaitTask(ctx, task.TaskID); err != nil {
			return fmt.Errorf("wait for task %d: %w", task.TaskID, err)
		}
	}
	return printJSON(out, task)
}

func newObjectSaveCommand(app *cli) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "save <index> [objectID]",
		Short: "Create or replace an object; without an id the service assigns one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, wf.data, wf.file)
			if err != nil {
				return err
			}
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			var task *api.TaskResponse
			if len(args) == 2 {
				task, err = idx.SaveObject(cmd.Context(), args[1], payload)
			} else {
				task, err = idx.AddObject(cmd.Context(), payload)
			}
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
		},
	}
	wf.register(cmd, true)
	return cmd
}

func newObjectUpdateCommand(app *cli) *cobra.Command {
	var (
		wf       writeFlags
		noCreate bool
	)
	cmd := &cobra.Command{
		Use:   "update <index> <objectID>",
		Short: "Merge attributes into an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, wf.data, wf.file)
			if err != nil {
				return err
			}
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			task, err := idx.PartialUpdateObject(cmd.Context(), args[1], payload, !noCreate)
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
		},
	}
	wf.register(cmd, true)
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "leave missing objects absent")
	return cmd
}

func newObjectDeleteCommand(app *cli) *cobra.Command {
	var wf writeFlags
	cmd := &cobra.Command{
		Use:   "delete <index> <objectID>...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			idx := s.client.InitIndex(args[0])
			if len(args) == 2 {
				task, err := idx.DeleteObject(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, task)
			}
			res, err := idx.DeleteObjects(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			return wf.finish(cmd.Context(), cmd.OutOrStdout(), idx, &api.TaskResponse{TaskID: res.TaskID})
		},
	}
	wf.register(cmd, false)
	return cmd
}
