package aws

import (
	"context"
	"encoding/pem"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"pkt.systems/hsearch/internal/sink"
)

func newFakeSink(t *testing.T) *Sink {
	t.Helper()
	backend := s3mem.New()
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)
	if err := backend.CreateBucket("exports"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	s, err := New(context.Background(), Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "exports",
		Prefix:          "nightly",
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestAWSSinkSpoolsUnknownSize(t *testing.T) {
	s := newFakeSink(t)
	ctx := context.Background()
	body := strings.Repeat(`{"objectID":"x"}`+"\n", 100)
	info, err := s.Put(ctx, "idx/objects.ndjson", io.MultiReader(strings.NewReader(body)), sink.PutOptions{ContentType: sink.ContentTypeNDJSON, Size: -1})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(body)) {
		t.Fatalf("unexpected size %d", info.Size)
	}
	rc, got, err := s.Get(ctx, "idx/objects.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != body || got.Size != int64(len(body)) {
		t.Fatalf("round trip mismatch (%d bytes)", len(data))
	}
}

func TestAWSSinkNotFound(t *testing.T) {
	s := newFakeSink(t)
	if _, _, err := s.Get(context.Background(), "missing.json"); !errors.Is(err, sink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAWSSinkRequiresRegion(t *testing.T) {
	if _, err := New(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Fatal("expected region error")
	}
}

func TestAWSSinkHonoursCABundle(t *testing.T) {
	backend := s3mem.New()
	server := httptest.NewTLSServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)
	if err := backend.CreateBucket("exports"); err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	bundle := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	if err := os.WriteFile(bundle, pemBytes, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	t.Setenv("AWS_CA_BUNDLE", bundle)

	s, err := New(context.Background(), Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "exports",
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("new with AWS_CA_BUNDLE: %v", err)
	}
	ctx := context.Background()
	body := `{"objectID":"a"}` + "\n"
	if _, err := s.Put(ctx, "idx/objects.ndjson", strings.NewReader(body), sink.PutOptions{ContentType: sink.ContentTypeNDJSON, Size: int64(len(body))}); err != nil {
		t.Fatalf("put over TLS: %v", err)
	}
	rc, _, err := s.Get(ctx, "idx/objects.ndjson")
	if err != nil {
		t.Fatalf("get over TLS: %v", err)
	}
	defer rc.Close()
	if data, _ := io.ReadAll(rc); string(data) != body {
		t.Fatalf("round trip mismatch: %q", data)
	}
}
