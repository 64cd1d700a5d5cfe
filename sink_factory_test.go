package hsearch

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/hsearch/internal/sink"
	"pkt.systems/hsearch/internal/sink/disk"
	"pkt.systems/hsearch/internal/sink/memory"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestOpenSinkMemory(t *testing.T) {
	s, err := OpenSink(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*memory.Sink); !ok {
		t.Fatalf("expected memory sink, got %T", s)
	}
}

func TestOpenSinkDisk(t *testing.T) {
	root := t.TempDir()
	s, err := OpenSink(context.Background(), "disk://"+root)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	d, ok := s.(*disk.Sink)
	if !ok {
		t.Fatalf("expected disk sink, got %T", s)
	}
	if d.Root() != root {
		t.Fatalf("unexpected root %s", d.Root())
	}
	if _, err := s.Put(context.Background(), "a/b.json", bytes.NewReader([]byte(`{}`)), sink.PutOptions{Size: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, info, err := s.Get(context.Background(), "a/b.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "{}" || info.Size != 2 {
		t.Fatalf("unexpected object %q size=%d", data, info.Size)
	}
}

func TestOpenSinkUnknownScheme(t *testing.T) {
	if _, err := OpenSink(context.Background(), "ftp://x"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

func TestBuildDiskSinkConfig(t *testing.T) {
	if _, err := BuildDiskSinkConfig(mustParse(t, "disk://")); err == nil {
		t.Fatal("expected error for empty disk path")
	}
	cfg, err := BuildDiskSinkConfig(mustParse(t, "disk://relative/dir"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !filepath.IsAbs(cfg.Root) || filepath.Base(cfg.Root) != "dir" {
		t.Fatalf("expected absolute root ending in dir, got %s", cfg.Root)
	}
}

func TestBuildS3SinkConfig(t *testing.T) {
	t.Setenv("HSEARCH_S3_ACCESS_KEY_ID", "minio")
	t.Setenv("HSEARCH_S3_SECRET_ACCESS_KEY", "minio123")
	cfg, summary, err := BuildS3SinkConfig(mustParse(t, "s3://localhost:9000/exports/nightly/search?insecure=1&path-style=true&region=eu-north-1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Endpoint != "localhost:9000" || cfg.Bucket != "exports" || cfg.Prefix != "nightly/search" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Insecure || !cfg.ForcePathStyle || cfg.Region != "eu-north-1" {
		t.Fatalf("query parameters not applied: %+v", cfg)
	}
	if cfg.CustomCreds == nil {
		t.Fatal("expected static credentials")
	}
	if summary.AccessKey != "minio" || !summary.HasSecret || summary.Source != "env:HSEARCH_S3_ACCESS_KEY_ID" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, _, err := BuildS3SinkConfig(mustParse(t, "s3://localhost:9000/")); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestBuildS3SinkConfigIncompleteCredentials(t *testing.T) {
	t.Setenv("HSEARCH_S3_ACCESS_KEY_ID", "minio")
	t.Setenv("HSEARCH_S3_SECRET_ACCESS_KEY", "")
	if _, _, err := BuildS3SinkConfig(mustParse(t, "s3://localhost:9000/b")); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestBuildAWSSinkConfig(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "")
	if _, _, err := BuildAWSSinkConfig(mustParse(t, "aws://bucket/prefix")); err == nil {
		t.Fatal("expected error without region")
	}
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	cfg, summary, err := BuildAWSSinkConfig(mustParse(t, "aws://bucket/a/b/?region=us-west-2&path-style=1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Bucket != "bucket" || cfg.Prefix != "a/b" || cfg.Region != "us-west-2" || !cfg.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if summary.AccessKey != "AKIA" || !summary.HasSecret {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestBuildAzureSinkConfig(t *testing.T) {
	t.Setenv("HSEARCH_AZURE_SAS_TOKEN", "")
	t.Setenv("AZURE_STORAGE_SAS_TOKEN", "")
	t.Setenv("HSEARCH_AZURE_ACCOUNT_KEY", "a2V5")
	cfg, err := BuildAzureSinkConfig(mustParse(t, "azure://acct/backups/search?create=1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.Account != "acct" || cfg.Container != "backups" || cfg.Prefix != "search" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.AccountKey != "a2V5" || !cfg.CreateContainer || cfg.SASToken != "" {
		t.Fatalf("credentials not applied: %+v", cfg)
	}
	cfg, err = BuildAzureSinkConfig(mustParse(t, "azure://acct/backups?sas=sv%3D1"))
	if err != nil {
		t.Fatalf("build sas: %v", err)
	}
	if cfg.SASToken != "sv=1" {
		t.Fatalf("unexpected sas %q", cfg.SASToken)
	}
	if _, err := BuildAzureSinkConfig(mustParse(t, "azure://acct")); err == nil {
		t.Fatal("expected error for missing container")
	}
}

func TestOpenSinkEncryptKey(t *testing.T) {
	bundle, err := NewExportKeyBundle()
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "export.pem")
	if err := os.WriteFile(keyFile, bundle, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	root := t.TempDir()
	raw := "disk://" + root + "?encrypt-key=" + url.QueryEscape(keyFile) + "&snappy=1"
	s, err := OpenSink(context.Background(), raw)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := s.Put(context.Background(), "idx/objects.ndjson", strings.NewReader("{\"objectID\":\"1\"}\n"), sink.PutOptions{Size: -1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	onDisk, err := os.ReadFile(filepath.Join(root, "idx", "objects.ndjson"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if bytes.Contains(onDisk, []byte("objectID")) {
		t.Fatalf("object written in plaintext: %q", onDisk)
	}

	again, err := OpenSink(context.Background(), raw)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	rc, _, err := again.Get(context.Background(), "idx/objects.ndjson")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "{\"objectID\":\"1\"}\n" {
		t.Fatalf("unexpected plaintext %q", data)
	}

	if _, err := OpenSink(context.Background(), "mem://?encrypt-key="+url.QueryEscape(filepath.Join(root, "missing.pem"))); err == nil {
		t.Fatal("expected error for missing key bundle")
	}
}
