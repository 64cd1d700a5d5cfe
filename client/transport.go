package client

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
)

const (
	defaultMaxIdleConns        = 128
	defaultMaxIdleConnsPerHost = 16
	defaultIdleConnTimeout     = 90 * time.Second
)

type connectTimeoutKey struct{}

func withConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, connectTimeoutKey{}, d)
}

func connectTimeoutFrom(ctx context.Context) time.Duration {
	d, _ := ctx.Value(connectTimeoutKey{}).(time.Duration)
	return d
}

// initTransport builds the HTTP client when none was supplied. The owned
// transport reads the connect timeout of each attempt from the request
// context, so changing the timeout at runtime takes effect immediately.
func (c *Client) initTransport() {
	if c.httpClient == nil {
		tr := newTransport(!c.disableHTTP2)
		c.ownedTransport = tr
		c.httpClient = &http.Client{Transport: tr}
	}
	if c.otelHTTP {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *c.httpClient
		wrapped.Transport = otelhttp.NewTransport(base,
			otelhttp.WithTracerProvider(c.tracerProviderOrGlobal()),
		)
		c.httpClient = &wrapped
	}
}

func newTransport(enableHTTP2 bool) *http.Transport {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if d := connectTimeoutFrom(ctx); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		// Responses are gunzipped by the dispatcher.
		DisableCompression: true,
	}
	if enableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return tr
}
