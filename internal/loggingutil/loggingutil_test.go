package loggingutil

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestSubsystemSkipsEmptyParts(t *testing.T) {
	cases := map[string][]string{
		"client.dispatch": {"client", "", " dispatch. "},
		"":                {"", "."},
		"cli":             {"cli"},
	}
	for want, parts := range cases {
		if got := Subsystem(parts...); got != want {
			t.Fatalf("Subsystem(%q) = %q, want %q", parts, got, want)
		}
	}
}

func TestEnsureNil(t *testing.T) {
	if Ensure(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestWithSubsystemAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel})
	WithSubsystem(logger, "client.sdk").Info("hello")
	out := buf.String()
	if !strings.Contains(out, "client.sdk") {
		t.Fatalf("expected subsystem in output, got %q", out)
	}
}

func TestFullFallsBackToDiscard(t *testing.T) {
	if Full(nil) == nil {
		t.Fatal("nil base should map to a usable logger")
	}
	Full(nil).Info("dropped")
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel})
	Full(logger).Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected passthrough, got %q", buf.String())
	}
}
