package hsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"pkt.systems/kryptograf"
	"pkt.systems/pslog"

	"pkt.systems/hsearch/api"
	"pkt.systems/hsearch/client"
	"pkt.systems/hsearch/internal/sink"
	"pkt.systems/hsearch/internal/sink/memory"
)

func readLines(t *testing.T, s sink.Sink, key string) []json.RawMessage {
	t.Helper()
	rc, _, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer rc.Close()
	var out []json.RawMessage
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		out = append(out, json.RawMessage(append([]byte(nil), sc.Bytes()...)))
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func seedProducts(t *testing.T, ts *TestService, n int) {
	t.Helper()
	objs := make([]any, n)
	for i := range objs {
		objs[i] = product{ObjectID: fmt.Sprintf("p%03d", i), Name: fmt.Sprintf("product %d", i), Price: i}
	}
	if err := ts.Seed("products", objs...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestExportWritesObjectsAndSettings(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(2))
	seedProducts(t, ts, 7)
	idx := ts.Client.InitIndex("products")
	if _, err := idx.SetSettings(context.Background(), api.Settings{"customRanking": []string{"desc(price)"}}); err != nil {
		t.Fatalf("settings: %v", err)
	}

	dst := memory.New()
	var progress []int64
	res, err := Export(context.Background(), idx, dst, ExportOptions{
		Prefix:   "2026-10-18",
		Query:    client.NewQuery("").SetHitsPerPage(3),
		Logger:   NewTestingLogger(t, pslog.DebugLevel),
		Progress: func(n int64) { progress = append(progress, n) },
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Objects != 7 || res.Pages != 3 {
		t.Fatalf("expected 7 objects over 3 pages, got %d over %d", res.Objects, res.Pages)
	}
	if res.ObjectsKey != "2026-10-18/products/objects.ndjson" {
		t.Fatalf("unexpected objects key %s", res.ObjectsKey)
	}
	if len(progress) != 3 {
		t.Fatalf("expected one progress call per page, got %v", progress)
	}
	lines := readLines(t, dst, res.ObjectsKey)
	if len(lines) != 7 {
		t.Fatalf("expected 7 lines, got %d", len(lines))
	}
	var first product
	if err := json.Unmarshal(lines[0], &first); err != nil || first.ObjectID != "p000" {
		t.Fatalf("unexpected first line %s (%v)", lines[0], err)
	}
	var size int64
	for _, l := range lines {
		size += int64(len(l)) + 1
	}
	if size != res.ObjectBytes {
		t.Fatalf("object bytes mismatch: wrote %d, reported %d", size, res.ObjectBytes)
	}

	rc, _, err := dst.Get(context.Background(), res.SettingsKey)
	if err != nil {
		t.Fatalf("settings get: %v", err)
	}
	defer rc.Close()
	var settings api.Settings
	if err := json.NewDecoder(rc).Decode(&settings); err != nil {
		t.Fatalf("settings decode: %v", err)
	}
	if _, ok := settings["customRanking"]; !ok {
		t.Fatalf("settings missing customRanking: %v", settings)
	}
}

func TestExportFailsOverBetweenHosts(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(3))
	seedProducts(t, ts, 5)
	ts.SetFault(ts.Hosts[0], FaultServerError)
	ts.StopHost(ts.Hosts[1])

	dst := memory.New()
	res, err := Export(context.Background(), ts.Client.InitIndex("products"), dst, ExportOptions{
		Query:        client.NewQuery("").SetHitsPerPage(2),
		SkipSettings: true,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Objects != 5 {
		t.Fatalf("expected 5 objects, got %d", res.Objects)
	}
	if res.SettingsKey != "" {
		t.Fatalf("settings should be skipped")
	}
	if got := len(dst.Keys()); got != 1 {
		t.Fatalf("expected only the objects file, got %v", dst.Keys())
	}
	if ts.Requests(ts.Hosts[0]) != 1 {
		t.Fatalf("failed host should be tried once then skipped, saw %d", ts.Requests(ts.Hosts[0]))
	}
}

type failingSink struct {
	sink.Sink
	err error
}

func (f failingSink) Put(ctx context.Context, key string, body io.Reader, opts sink.PutOptions) (*sink.ObjectInfo, error) {
	return nil, f.err
}

func TestExportSinkFailureStopsBrowse(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(1))
	seedProducts(t, ts, 50)
	boom := errors.New("disk full")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Export(ctx, ts.Client.InitIndex("products"), failingSink{Sink: memory.New(), err: boom}, ExportOptions{
		Query: client.NewQuery("").SetHitsPerPage(1),
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestExportAllHostsDown(t *testing.T) {
	ts := StartTestService(t, WithTestHosts(2))
	for _, h := range ts.Hosts {
		ts.SetFault(h, FaultServerError)
	}
	_, err := Export(context.Background(), ts.Client.InitIndex("products"), memory.New(), ExportOptions{SkipSettings: true})
	var agg *client.AggregatedFailure
	if !errors.As(err, &agg) {
		t.Fatalf("expected aggregated failure, got %v", err)
	}
}

func TestExportRequiresIndexAndSink(t *testing.T) {
	if _, err := Export(context.Background(), nil, memory.New(), ExportOptions{}); err == nil {
		t.Fatal("expected error for nil index")
	}
}

func TestExportEncryptsObjectsAtRest(t *testing.T) {
	ts := StartTestService(t)
	seedProducts(t, ts, 4)
	idx := ts.Client.InitIndex("products")

	root := kryptograf.MustGenerateRootKey()
	dst := memory.New()
	res, err := Export(context.Background(), idx, dst, ExportOptions{
		Encryption: &ExportEncryption{RootKey: root},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !res.Encrypted || res.Objects != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, key := range []string{res.ObjectsKey, res.SettingsKey} {
		rc, _, err := dst.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("get raw %s: %v", key, err)
		}
		raw, _ := io.ReadAll(rc)
		rc.Close()
		if !bytes.HasPrefix(raw, []byte("HSX1")) || bytes.Contains(raw, []byte("product")) {
			t.Fatalf("%s not stored encrypted: %q", key, raw)
		}
	}

	plain, err := EncryptSink(dst, ExportEncryption{RootKey: root})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	lines := readLines(t, plain, res.ObjectsKey)
	if len(lines) != 4 {
		t.Fatalf("expected 4 decrypted lines, got %d", len(lines))
	}
	var p product
	if err := json.Unmarshal(lines[0], &p); err != nil || p.ObjectID == "" {
		t.Fatalf("decrypted line is not an object: %s (%v)", lines[0], err)
	}
}
