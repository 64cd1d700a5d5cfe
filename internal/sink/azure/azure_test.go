package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	cases := []Config{
		{Container: "c", AccountKey: "k"},
		{Account: "a", AccountKey: "k"},
		{Account: "a", Container: "c"},
	}
	for _, cfg := range cases {
		if _, err := New(ctx, cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func TestNewSharedKeyAndLocation(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("not-a-real-key"))
	s, err := New(context.Background(), Config{Account: "acct", AccountKey: key, Container: "exports", Prefix: "/nightly/"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := s.Location(); got != "https://acct.blob.core.windows.net/exports/nightly" {
		t.Fatalf("unexpected location %q", got)
	}
	if name, _ := s.blobName("idx/objects.ndjson"); name != "nightly/idx/objects.ndjson" {
		t.Fatalf("unexpected blob name %q", name)
	}
}

func TestAppendSASToken(t *testing.T) {
	got, err := appendSASToken("https://acct.blob.core.windows.net/?comp=list", "?sv=1&sig=x")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got != "https://acct.blob.core.windows.net/?comp=list&sv=1&sig=x" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}

func TestErrorClassification(t *testing.T) {
	if !isNotFound(&azcore.ResponseError{StatusCode: http.StatusNotFound}) {
		t.Fatal("expected not found")
	}
	if !isContainerExists(&azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "ContainerAlreadyExists"}) {
		t.Fatal("expected container exists")
	}
	if isNotFound(errors.New("boom")) {
		t.Fatal("plain error is not a not-found")
	}
}
