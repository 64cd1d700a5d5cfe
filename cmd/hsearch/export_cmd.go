package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"pkt.systems/hsearch"
	"pkt.systems/hsearch/client"
)

func newExportCommand(app *cli) *cobra.Command {
	var (
		to           string
		prefix       string
		query        string
		filters      string
		skipSettings bool
		keyFile      string
		snappy       bool
	)
	cmd := &cobra.Command{
		Use:   "export <index>",
		Short: "Stream every object of an index to object storage as NDJSON",
		Long: `Browse an index and write {prefix}/{index}/objects.ndjson plus
{prefix}/{index}/settings.json to the destination.

Destinations:
  disk:///var/backups/hsearch
  s3://host[:port]/bucket[/prefix][?insecure=1&path-style=1]   (HSEARCH_S3_ACCESS_KEY_ID / HSEARCH_S3_SECRET_ACCESS_KEY)
  aws://bucket[/prefix]?region=eu-north-1                      (standard AWS credential chain)
  azure://account/container[/prefix]                           (HSEARCH_AZURE_ACCOUNT_KEY or HSEARCH_AZURE_SAS_TOKEN)

With --encrypt-key-file both objects are stored under envelope encryption
using the root key of a kryptograf PEM bundle (see "hsearch config
export-key"). Opening the same destination URL with ?encrypt-key=<bundle>
reads them back in plaintext.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(to) == "" {
				return fmt.Errorf("--to is required")
			}
			s, err := app.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			dst, err := hsearch.OpenSink(cmd.Context(), to)
			if err != nil {
				return err
			}
			defer dst.Close()

			var enc *hsearch.ExportEncryption
			if keyFile != "" {
				root, err := hsearch.LoadExportKeyFile(keyFile)
				if err != nil {
					return err
				}
				enc = &hsearch.ExportEncryption{RootKey: root, Snappy: snappy}
			}

			q := client.NewQuery(query)
			if filters != "" {
				q.SetFilters(filters)
			}
			res, err := hsearch.Export(cmd.Context(), s.client.InitIndex(args[0]), dst, hsearch.ExportOptions{
				Prefix:       prefix,
				Query:        q,
				SkipSettings: skipSettings,
				Encryption:   enc,
				Logger:       app.logger(),
				Progress: func(n int64) {
					s.logger.Debug("cli.export.progress", "objects", n)
				},
			})
			if err != nil {
				return err
			}
			verb := "exported"
			if res.Encrypted {
				verb = "exported and encrypted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s objects (%s, %d pages) from %s to %s/%s in %s\n",
				verb,
				humanize.Comma(res.Objects),
				humanize.Bytes(uint64(res.ObjectBytes)),
				res.Pages,
				res.Index,
				dst.Location(),
				res.ObjectsKey,
				res.Elapsed.Round(time.Millisecond),
			)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&to, "to", "", "destination URL")
	flags.StringVar(&prefix, "prefix", "", "key prefix under the destination")
	flags.StringVar(&query, "query", "", "only export objects matching this query")
	flags.StringVar(&filters, "filters", "", "only export objects matching this filter")
	flags.BoolVar(&skipSettings, "skip-settings", false, "do not write settings.json")
	flags.StringVar(&keyFile, "encrypt-key-file", "", "encrypt objects with the root key from this kryptograf PEM bundle")
	flags.BoolVar(&snappy, "snappy", false, "compress before encrypting (with --encrypt-key-file)")
	return cmd
}
