package hsearch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/hsearch/client"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		raw      string
		protocol string
		endpoint string
		path     string
		insecure bool
	}{
		{"collector", "grpc", "collector:4317", "", true},
		{"collector:9999", "grpc", "collector:9999", "", true},
		{"grpc://collector", "grpc", "collector:4317", "", true},
		{"grpcs://collector:443", "grpc", "collector:443", "", false},
		{"http://collector", "http", "collector:4318", "", true},
		{"https://collector/v1/traces/", "http", "collector:4318", "/v1/traces", false},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got.protocol != tc.protocol || got.endpoint != tc.endpoint || got.path != tc.path || got.insecure != tc.insecure {
			t.Fatalf("%s: unexpected target %+v", tc.raw, got)
		}
	}
	for _, bad := range []string{"", "ftp://collector", "http://"} {
		if _, err := resolveOTLPTarget(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(context.Background(), TelemetryConfig{}, nil)
	if err != nil || tel != nil {
		t.Fatalf("expected nil telemetry, got %v %v", tel, err)
	}
	if opts := tel.ClientOptions(); opts != nil {
		t.Fatalf("nil telemetry should add no client options")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}

func TestSetupTelemetryRuntimeMetricsNeedListener(t *testing.T) {
	if _, err := SetupTelemetry(context.Background(), TelemetryConfig{RuntimeMetrics: true}, nil); err == nil {
		t.Fatal("expected error without metrics listener")
	}
}

func TestSetupTelemetryServesClientMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := SetupTelemetry(ctx, TelemetryConfig{
		MetricsListen: "127.0.0.1:0",
		PprofListen:   "127.0.0.1:0",
	}, NewTestingLogger(t, pslog.InfoLevel))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	ts := StartTestService(t, WithTestHosts(1), WithTestClientOptions(tel.ClientOptions()...))
	if err := ts.Seed("products", product{Name: "phone"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := ts.Client.InitIndex("products").Search(ctx, client.NewQuery("phone")); err != nil {
		t.Fatalf("search: %v", err)
	}

	body := httpGet(t, "http://"+tel.MetricsAddr()+"/metrics")
	if !strings.Contains(body, "hsearch_client_attempts") {
		t.Fatalf("metrics missing client attempts:\n%s", body)
	}
	if body := httpGet(t, "http://"+tel.PprofAddr()+"/debug/pprof/"); !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index missing goroutine profile")
	}
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	return string(data)
}
