// Package hsearch bundles the tooling that sits around the search client:
// configuration loading, telemetry setup, index export to object storage
// and an in-process fake of the search REST API for tests.
//
// The SDK itself lives in pkt.systems/hsearch/client; host selection and
// health tracking live in pkt.systems/hsearch/hostpool.
//
// # Building a client from configuration
//
//	cfg := hsearch.DefaultConfig()
//	cfg.AppID = "APPID"
//	cfg.APIKey = os.Getenv("HSEARCH_API_KEY")
//	cli, err := hsearch.NewClient(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
// # Exporting an index
//
// Export browses every object of an index and streams them as NDJSON to a
// Sink. OpenSink accepts mem://, disk:///path, s3://bucket/prefix,
// aws://bucket/prefix and azure://account/container/prefix URLs.
//
//	dst, err := hsearch.OpenSink(ctx, "disk:///var/backups/search")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dst.Close()
//	res, err := hsearch.Export(ctx, cli.InitIndex("products"), dst, hsearch.ExportOptions{
//	    Prefix: time.Now().UTC().Format("2006-01-02"),
//	})
//
// The result reports how many objects and pages were written.
//
// # Testing against a fake service
//
// StartTestService listens on several local hosts that share one in-memory
// data set. Hosts can be stopped or made to fail so failover paths can be
// exercised without the real service:
//
//	ts := hsearch.StartTestService(t, hsearch.WithTestHosts(3))
//	ts.SetFault(ts.Hosts[0], hsearch.FaultServerError)
//	res, err := ts.Client.InitIndex("products").Search(ctx, client.NewQuery("phone"))
package hsearch
