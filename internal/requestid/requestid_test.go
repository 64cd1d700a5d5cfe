package requestid

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsVersion7(t *testing.T) {
	id, err := uuid.Parse(New())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("expected v7, got %d", id.Version())
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{" abc-123 ", "abc-123", true},
		{"", "", false},
		{"has space", "", false},
		{strings.Repeat("x", MaxLength+1), "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Normalize(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWithAndFrom(t *testing.T) {
	ctx := With(context.Background(), "rid-1")
	if From(ctx) != "rid-1" {
		t.Fatalf("unexpected id %q", From(ctx))
	}
	if From(With(context.Background(), "bad id")) != "" {
		t.Fatal("invalid id should not be stored")
	}
	if From(nil) != "" {
		t.Fatal("nil ctx should yield empty id")
	}
}
