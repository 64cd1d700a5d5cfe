package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/hsearch/internal/sink"
)

func TestMemorySinkRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	info, err := s.Put(ctx, "idx/objects.ndjson", strings.NewReader("{}\n{}\n"), sink.PutOptions{ContentType: sink.ContentTypeNDJSON, Size: -1})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 6 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	rc, got, err := s.Get(ctx, "idx/objects.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "{}\n{}\n" || got.ContentType != sink.ContentTypeNDJSON {
		t.Fatalf("unexpected object %q %+v", data, got)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, sink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "idx/objects.ndjson" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
