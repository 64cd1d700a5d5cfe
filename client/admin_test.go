package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
)

func TestIndexOperations(t *testing.T) {
	tr := newHostTransport()
	tr.handle("w1", respond(http.StatusOK, `{"taskID":1,"updatedAt":"now"}`))
	cli := newTestClient(t, tr, client.WithReadHosts("r1"), client.WithWriteHosts("w1"))
	ctx := context.Background()

	if _, err := cli.MoveIndex(ctx, "tmp", "live"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := cli.CopyIndex(ctx, "live", "backup"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := cli.DeleteIndex(ctx, "old"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	reqs := tr.requests()
	var move api.OperationRequest
	if err := json.Unmarshal(reqs[0].Body, &move); err != nil || move.Operation != "move" || move.Destination != "live" {
		t.Fatalf("unexpected move body %s", reqs[0].Body)
	}
	if reqs[0].Path != "/1/indexes/tmp/operation" || reqs[1].Path != "/1/indexes/live/operation" {
		t.Fatalf("unexpected operation paths %s %s", reqs[0].Path, reqs[1].Path)
	}
	if reqs[2].Method != http.MethodDelete || reqs[2].Path != "/1/indexes/old" {
		t.Fatalf("unexpected delete %+v", reqs[2])
	}
	if _, err := cli.MoveIndex(ctx, "", "x"); !errors.Is(err, client.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestListIndexes(t *testing.T) {
	tr := newHostTransport()
	tr.handle("r1", respond(http.StatusOK, `{"items":[{"name":"products","entries":42,"pendingTask":false}],"nbPages":1}`))
	cli := newTestClient(t, tr, client.WithReadHosts("r1"), client.WithWriteHosts("w1"))
	res, err := cli.ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Name != "products" || res.Items[0].Entries != 42 {
		t.Fatalf("unexpected list %+v", res)
	}
}

func TestMultipleQueries(t *testing.T) {
	tr := newHostTransport()
	tr.handle("r1", respond(http.StatusOK, `{"results":[{"index":"a","nbHits":1},{"index":"b","nbHits":0}]}`))
	cli := newTestClient(t, tr, client.WithReadHosts("r1"), client.WithWriteHosts("w1"))

	res, err := cli.MultipleQueries(context.Background(), []client.IndexedQuery{
		{Index: "a", Query: client.NewQuery("x")},
		{Index: "b", Query: client.NewQuery("y").SetPage(2)},
	}, api.StrategyStopIfEnoughMatches)
	if err != nil {
		t.Fatalf("multiple queries: %v", err)
	}
	if len(res.Results) != 2 || res.Results[0].Index != "a" {
		t.Fatalf("unexpected results %+v", res)
	}
	var sent api.MultipleQueriesRequest
	if err := json.Unmarshal(tr.requests()[0].Body, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.Strategy != api.StrategyStopIfEnoughMatches || sent.Requests[1].Params != "page=2&query=y" {
		t.Fatalf("unexpected request %+v", sent)
	}
}

func TestMultiIndexBatchRequiresIndexName(t *testing.T) {
	tr := newHostTransport()
	tr.handle("w1", respond(http.StatusOK, `{"taskID":{"a":1,"b":2},"objectIDs":["1"]}`))
	cli := newTestClient(t, tr, client.WithWriteHosts("w1"), client.WithReadHosts("r1"))
	ctx := context.Background()

	if _, err := cli.Batch(ctx, []api.BatchOperation{{Action: api.ActionClear}}); !errors.Is(err, client.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	res, err := cli.Batch(ctx, []api.BatchOperation{
		{Action: api.ActionAddObject, IndexName: "a", Body: json.RawMessage(`{"objectID":"1"}`)},
		{Action: api.ActionClear, IndexName: "b"},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.TaskID["b"] != 2 {
		t.Fatalf("unexpected response %+v", res)
	}
	if tr.requests()[0].Path != "/1/indexes/*/batch" {
		t.Fatalf("unexpected path %s", tr.requests()[0].Path)
	}
}
