// Package client is the Go SDK for the hosted search service. It turns each
// logical API call into a walk over the application's hosts, tracks which
// hosts are failing and offers an asynchronous, cancellable variant of the
// common calls.
//
// # Quick start
//
//	ctx := context.Background()
//	cli, err := client.New("APPID", "api-key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
//	idx := cli.InitIndex("products")
//	task, err := idx.SaveObject(ctx, "sku-1", map[string]any{"name": "phone"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := idx.WaitTask(ctx, task.TaskID); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := idx.Search(ctx, client.NewQuery("phone").SetHitsPerPage(5))
//
// # Hosts and failover
//
// Every application has a read list (queries, object reads) and a write list
// (indexing, administration). By default both are derived from the
// application id: a primary host followed by three fallback hosts in random
// order. WithHosts, WithReadHosts and WithWriteHosts replace them.
//
// A dispatch tries the eligible hosts in order:
//
//   - 2xx returns the body and marks the host up
//   - 4xx stops immediately with *ClientRequestError; other hosts are not tried
//   - 5xx, timeouts and network errors mark the host down and move on
//   - when every host failed, *AggregatedFailure lists each attempt
//
// A host marked down is skipped for the host-down delay (5s by default).
// When every host is cooling down the full list is used anyway.
//
// # Timeouts
//
// Each attempt is bounded by the connect timeout plus a read timeout.
// Searches use the search timeout (5s) instead of the read timeout (30s).
// The caller's context bounds the whole dispatch; cancelling it stops the
// walk without marking the current host down.
//
// # Asynchronous requests
//
// SearchAsync, ListIndexesAsync, MultipleQueriesAsync and the generic Go
// run on the client's request executor (four workers by default) and call
// their CompletionHandler on the completion executor (one goroutine by
// default, so handlers never run concurrently with each other). The returned
// Future can be cancelled; a cancelled future never calls its handler.
//
//	fut := idx.SearchAsync(ctx, client.NewQuery("phone"), func(res *api.SearchResponse, err error) {
//	    // runs on the completion executor
//	})
//	fut.Cancel()
//
// # Raw requests
//
// Client.Dispatch and Client.DispatchJSON accept a Descriptor for endpoints
// not wrapped by the SDK. Only PUT and POST may carry a body.
package client
