package hsearch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
	"pkt.systems/hsearch/hostpool"
)

type product struct {
	ObjectID string `json:"objectID,omitempty"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
}

func TestTestServiceObjectLifecycle(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	ctx := context.Background()
	idx := ts.Client.InitIndex("products")

	task, err := idx.SaveObject(ctx, "sku-1", product{Name: "Phone", Price: 300})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := idx.WaitTask(ctx, task.TaskID); err != nil {
		t.Fatalf("wait: %v", err)
	}
	raw, err := idx.GetObject(ctx, "sku-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got product
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ObjectID != "sku-1" || got.Name != "Phone" {
		t.Fatalf("unexpected object %+v", got)
	}

	if _, err := idx.PartialUpdateObject(ctx, "sku-1", map[string]any{"price": 250}, true); err != nil {
		t.Fatalf("partial: %v", err)
	}
	raw, _ = idx.GetObject(ctx, "sku-1")
	_ = json.Unmarshal(raw, &got)
	if got.Price != 250 || got.Name != "Phone" {
		t.Fatalf("partial update not merged: %+v", got)
	}
	if _, err := idx.PartialUpdateObject(ctx, "sku-404", map[string]any{"price": 1}, false); err != nil {
		t.Fatalf("partial no-create: %v", err)
	}
	if _, err := idx.GetObject(ctx, "sku-404"); !client.IsNotFound(err) {
		t.Fatalf("expected not found after no-create partial, got %v", err)
	}

	if _, err := idx.DeleteObject(ctx, "sku-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = idx.GetObject(ctx, "sku-1")
	if !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if client.StatusCode(err) != 404 {
		t.Fatalf("expected status 404, got %d", client.StatusCode(err))
	}
}

func TestTestServiceSearchPaging(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	if err := ts.Seed("products",
		product{Name: "red phone"},
		product{Name: "blue phone"},
		product{Name: "green lamp"},
		product{Name: "black phone"},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	idx := ts.Client.InitIndex("products")
	res, err := idx.Search(context.Background(), client.NewQuery("phone").SetHitsPerPage(2).SetPage(1))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.NbHits != 3 || res.NbPages != 2 || len(res.Hits) != 1 {
		t.Fatalf("unexpected page: hits=%d nbHits=%d nbPages=%d", len(res.Hits), res.NbHits, res.NbPages)
	}
	var hits []product
	if err := res.DecodeHits(&hits); err != nil {
		t.Fatalf("decode hits: %v", err)
	}
	if hits[0].Name != "black phone" {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
}

func TestTestServiceRejectsBadKey(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(2), WithoutTestClient())
	cli, err := client.New(ts.AppID, "wrong",
		client.WithScheme("http"),
		client.WithHosts(ts.Hosts...),
		client.WithLogger(pslog.NoopLogger()),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer cli.Close()
	_, err = cli.ListIndexes(context.Background())
	var reqErr *client.ClientRequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 403 {
		t.Fatalf("expected 403 client error, got %v", err)
	}
	if got := ts.Requests(ts.Hosts[0]) + ts.Requests(ts.Hosts[1]); got != 1 {
		t.Fatalf("4xx must not be retried on another host, saw %d requests", got)
	}
	if st, ok := cli.HostStatus(ts.Hosts[0]); ok {
		t.Fatalf("4xx must not record host health, got %+v", st)
	}
	if eligible := cli.EligibleHosts(hostpool.Read); len(eligible) == 0 || eligible[0] != ts.Hosts[0] {
		t.Fatalf("host answering 4xx must stay first in line, got %v", eligible)
	}
}

func TestTestServiceFailover(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(3),
		WithTestClientOptions(client.WithConnectTimeout(300*time.Millisecond), client.WithReadTimeout(300*time.Millisecond)))
	if err := ts.Seed("products", product{ObjectID: "a", Name: "lamp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts.SetFault(ts.Hosts[0], FaultServerError)
	ts.SetFault(ts.Hosts[1], FaultHang)
	ts.StopHost(ts.Hosts[2])

	idx := ts.Client.InitIndex("products")
	_, err := idx.GetObject(context.Background(), "a")
	var agg *client.AggregatedFailure
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregated failure, got %v", err)
	}
	if len(agg.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(agg.Attempts))
	}
	for _, h := range ts.Hosts {
		if st, _ := ts.Client.HostStatus(h); st.Up {
			t.Fatalf("host %s should be marked down", h)
		}
	}

	ts.SetFault(ts.Hosts[0], FaultNone)
	ts.Client.ResetHostStatus()
	if _, err := idx.GetObject(context.Background(), "a"); err != nil {
		t.Fatalf("expected recovery on healthy host, got %v", err)
	}
}

func TestTestServiceResetFault(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(2))
	if err := ts.Seed("products", product{ObjectID: "a", Name: "lamp"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts.SetFault(ts.Hosts[0], FaultReset)
	if _, err := ts.Client.InitIndex("products").GetObject(context.Background(), "a"); err != nil {
		t.Fatalf("expected failover past reset host: %v", err)
	}
	if st, _ := ts.Client.HostStatus(ts.Hosts[0]); st.Up {
		t.Fatalf("reset host should be marked down")
	}
}

func TestTestServiceIndexAdmin(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	ctx := context.Background()
	idx := ts.Client.InitIndex("src")
	if _, err := idx.AddObjects(ctx, []any{product{Name: "a"}, product{Name: "b"}}); err != nil {
		t.Fatalf("add objects: %v", err)
	}
	if _, err := idx.SetSettings(ctx, api.Settings{"searchableAttributes": []string{"name"}}); err != nil {
		t.Fatalf("set settings: %v", err)
	}
	if _, err := ts.Client.CopyIndex(ctx, "src", "dst"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	settings, err := ts.Client.InitIndex("dst").GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if _, ok := settings["searchableAttributes"]; !ok {
		t.Fatalf("settings not copied: %v", settings)
	}
	list, err := ts.Client.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Items) != 2 || list.Items[0].Name != "dst" || list.Items[0].Entries != 2 {
		t.Fatalf("unexpected list %+v", list.Items)
	}
	if _, err := ts.Client.MoveIndex(ctx, "dst", "moved"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := len(ts.Objects("moved")); got != 2 {
		t.Fatalf("expected 2 moved objects, got %d", got)
	}
	if ts.Objects("dst") != nil {
		t.Fatalf("move should remove source")
	}
	if _, err := ts.Client.InitIndex("moved").Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := len(ts.Objects("moved")); got != 0 {
		t.Fatalf("expected empty index after clear, got %d", got)
	}
}

func TestTestServiceWaitTaskPolls(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	ts.SetPendingTaskPolls(2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	idx := ts.Client.InitIndex("products")
	task, err := idx.AddObject(ctx, product{Name: "x"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	st, err := idx.TaskStatus(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Published() {
		t.Fatalf("task should still be pending")
	}
	if err := idx.WaitTask(ctx, task.TaskID); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestTestServiceMultiIndexCalls(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	ctx := context.Background()
	res, err := ts.Client.Batch(ctx, []api.BatchOperation{
		{Action: api.ActionAddObject, IndexName: "a", Body: json.RawMessage(`{"objectID":"1","name":"one"}`)},
		{Action: api.ActionAddObject, IndexName: "b", Body: json.RawMessage(`{"objectID":"2","name":"two"}`)},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.TaskID) != 2 || len(res.ObjectIDs) != 2 {
		t.Fatalf("unexpected batch response %+v", res)
	}
	objs, err := ts.Client.InitIndex("a").GetObjects(ctx, []string{"1", "missing"})
	if err != nil {
		t.Fatalf("get objects: %v", err)
	}
	if len(objs) != 2 || string(objs[1]) != "null" {
		t.Fatalf("unexpected objects %s", objs)
	}
	mq, err := ts.Client.MultipleQueries(ctx, []client.IndexedQuery{
		{Index: "a", Query: client.NewQuery("one")},
		{Index: "b", Query: client.NewQuery("one")},
	}, api.StrategyNone)
	if err != nil {
		t.Fatalf("multiple queries: %v", err)
	}
	if len(mq.Results) != 2 || mq.Results[0].NbHits != 1 || mq.Results[1].NbHits != 0 {
		t.Fatalf("unexpected results %+v", mq.Results)
	}
}
