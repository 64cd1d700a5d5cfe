package disk

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/hsearch/internal/sink"
)

func TestDiskSinkPutGet(t *testing.T) {
	root := t.TempDir()
	s, err := New(Config{Root: root})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	info, err := s.Put(ctx, "exports/products/settings.json", strings.NewReader(`{"a":1}`), sink.PutOptions{ContentType: sink.ContentTypeJSON, Size: -1})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	data, err := os.ReadFile(filepath.Join(root, "exports", "products", "settings.json"))
	if err != nil || string(data) != `{"a":1}` {
		t.Fatalf("unexpected file %q (%v)", data, err)
	}
	rc, _, err := s.Get(ctx, "exports/products/settings.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected body %q", got)
	}
	entries, _ := os.ReadDir(filepath.Join(root, ".tmp"))
	if len(entries) != 0 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestDiskSinkRejectsEscapes(t *testing.T) {
	s, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Put(context.Background(), "../outside", strings.NewReader("x"), sink.PutOptions{}); err == nil {
		t.Fatal("expected escape to be rejected")
	}
	if _, _, err := s.Get(context.Background(), "nope"); !errors.Is(err, sink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDiskSinkRequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}
