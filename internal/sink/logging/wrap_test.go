package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/hsearch/internal/requestid"
	"pkt.systems/hsearch/internal/sink"
	"pkt.systems/hsearch/internal/sink/memory"
)

func TestWrapLogsPutAndPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.TraceLevel})
	inner := memory.New()
	s := Wrap(inner, logger)

	ctx := requestid.With(context.Background(), "rid-1")
	if _, err := s.Put(ctx, "idx/settings.json", strings.NewReader("{}"), sink.PutOptions{ContentType: sink.ContentTypeJSON}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if keys := inner.Keys(); len(keys) != 1 {
		t.Fatalf("expected object in inner sink, got %v", keys)
	}
	out := buf.String()
	if !strings.Contains(out, "sink.put.success") || !strings.Contains(out, "rid-1") {
		t.Fatalf("missing log output: %s", out)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, sink.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if s.Location() != "mem://" {
		t.Fatalf("unexpected location %q", s.Location())
	}
}

func TestWrapNilLogger(t *testing.T) {
	s := Wrap(memory.New(), nil)
	if _, err := s.Put(context.Background(), "k", strings.NewReader("x"), sink.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
}
