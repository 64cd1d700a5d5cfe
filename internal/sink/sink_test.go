package sink

import "testing"

func TestJoin(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"products", "objects.ndjson"}, "products/objects.ndjson"},
		{"/exports/", []string{"products/", "settings.json"}, "exports/products/settings.json"},
		{"a", []string{"", "b"}, "a/b"},
	}
	for _, tc := range cases {
		if got := Join(tc.prefix, tc.parts...); got != tc.want {
			t.Fatalf("Join(%q, %v) = %q, want %q", tc.prefix, tc.parts, got, tc.want)
		}
	}
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "../etc/passwd", "a/../../b", "/"} {
		if err := ValidateKey(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if err := ValidateKey("idx/objects.ndjson"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
