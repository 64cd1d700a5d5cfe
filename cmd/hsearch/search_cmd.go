package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
)

func newSearchCommand(app *cli) *cobra.Command {
	var (
		hitsPerPage int
		page        int
		filters     string
		attributes  []string
		params      string
		async       bool
		requestID   string
	)
	cmd := &cobra.Command{
		Use:   "search <index> [query]",
		Short: "Run a query against an index",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := client.NewQuery("")
			if params != "" {
				parsed, err := client.ParseQuery(params)
				if err != nil {
					return fmt.Errorf("parse --params: %w", err)
				}
				q = parsed
			}
			if len(args) == 2 {
				q.SetQuery(args[1])
			}
			if cmd.Flags().Changed("hits-per-page") {
				q.SetHitsPerPage(hitsPerPage)
			}
			if cmd.Flags().Changed("page") {
				q.SetPage(page)
			}
			if filters != "" {
				q.SetFilters(filters)
			}
			if len(attributes) > 0 {
				q.SetAttributesToRetrieve(attributes...)
			}

			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			if requestID != "" {
				ctx = client.WithRequestID(ctx, requestID)
			}
			idx := s.cfg.InitIndex(s.client, args[0])

			var res *api.SearchResponse
			if async {
				f := idx.SearchAsync(ctx, q, func(r *api.SearchResponse, err error) {
					if err != nil {
						s.logger.Debug("cli.search.async_failed", "error", err)
						return
					}
					s.logger.Debug("cli.search.async_complete", "hits", r.NbHits)
				})
				res, err = f.Wait(ctx)
			} else {
				res, err = idx.Search(ctx, q)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&hitsPerPage, "hits-per-page", 20, "hits per page")
	flags.IntVar(&page, "page", 0, "zero-based page")
	flags.StringVar(&filters, "filters", "", "filter expression")
	flags.StringSliceVar(&attributes, "attributes", nil, "attributes to retrieve")
	flags.StringVar(&params, "params", "", "raw URL-encoded search parameters")
	flags.BoolVar(&async, "async", false, "run through the asynchronous request path")
	flags.StringVar(&requestID, "request-id", "", "request id sent as X-Request-Id")
	return cmd
}
