package client_test

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"pkt.systems/hsearch/client"
)

type hostHandler func(req *http.Request, body []byte) (*http.Response, error)

type seenRequest struct {
	Host   string
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// hostTransport routes requests by URL host, mirroring how the client
// addresses each candidate host.
type hostTransport struct {
	mu       sync.Mutex
	handlers map[string]hostHandler
	seen     []seenRequest
}

func newHostTransport() *hostTransport {
	return &hostTransport{handlers: make(map[string]hostHandler)}
}

func (t *hostTransport) handle(host string, h hostHandler) {
	t.mu.Lock()
	t.handlers[host] = h
	t.mu.Unlock()
}

func (t *hostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	t.mu.Lock()
	t.seen = append(t.seen, seenRequest{
		Host:   req.URL.Host,
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
		Body:   body,
	})
	h := t.handlers[req.URL.Host]
	t.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("dial tcp %s: connection refused", req.URL.Host)
	}
	return h(req, body)
}

func (t *hostTransport) hosts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.seen))
	for i, s := range t.seen {
		out[i] = s.Host
	}
	return out
}

func (t *hostTransport) requests() []seenRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]seenRequest(nil), t.seen...)
}

func (t *hostTransport) reset() {
	t.mu.Lock()
	t.seen = nil
	t.mu.Unlock()
}

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	resp := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	resp.ContentLength = int64(len(body))
	return resp
}

func respond(status int, body string) hostHandler {
	return func(req *http.Request, _ []byte) (*http.Response, error) {
		return jsonResponse(req, status, body), nil
	}
}

func refuse() hostHandler {
	return func(req *http.Request, _ []byte) (*http.Response, error) {
		return nil, fmt.Errorf("dial tcp %s: connection refused", req.URL.Host)
	}
}

// hang blocks until the attempt context ends.
func hang() hostHandler {
	return func(req *http.Request, _ []byte) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
}

func newTestClient(t *testing.T, tr http.RoundTripper, opts ...client.Option) *client.Client {
	t.Helper()
	base := []client.Option{
		client.WithHTTPClient(&http.Client{Transport: tr}),
		client.WithScheme("http"),
	}
	cli, err := client.New("APP", "KEY", append(base, opts...)...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}
