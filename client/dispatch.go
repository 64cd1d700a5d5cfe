package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"pkt.systems/hsearch/hostpool"
)

// Operation names the logical API call a dispatch serves. It labels logs,
// spans and metrics only.
type Operation string

// Operations issued by Client and Index.
const (
	OpRaw             Operation = "raw"
	OpSearch          Operation = "search"
	OpMultipleQueries Operation = "multiple_queries"
	OpBrowse          Operation = "browse"
	OpGetObject       Operation = "get_object"
	OpGetObjects      Operation = "get_objects"
	OpAddObject       Operation = "add_object"
	OpSaveObject      Operation = "save_object"
	OpPartialUpdate   Operation = "partial_update"
	OpDeleteObject    Operation = "delete_object"
	OpBatch           Operation = "batch"
	OpClearIndex      Operation = "clear_index"
	OpGetSettings     Operation = "get_settings"
	OpSetSettings     Operation = "set_settings"
	OpTaskStatus      Operation = "task_status"
	OpListIndexes     Operation = "list_indexes"
	OpDeleteIndex     Operation = "delete_index"
	OpIndexOperation  Operation = "index_operation"
)

// Descriptor is one logical request. Zero timeouts fall back to the client
// tiers: ConnectTimeout to the connect timeout, ReadTimeout to the search
// or read timeout depending on Search.
type Descriptor struct {
	Op     Operation
	Method string
	// Path starts with "/" and may carry a query string.
	Path string
	// Body is sent as JSON. Only PUT and POST may carry one.
	Body   []byte
	Role   hostpool.Role
	Search bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Header is merged over the client headers for this request only.
	Header http.Header
}

const (
	outcomeSuccess     = "success"
	outcomeHostFailure = "host_failure"
	outcomeFatal       = "fatal"
	outcomeCancelled   = "cancelled"
)

// Dispatch tries the eligible hosts of d.Role in order until one answers
// with a 2xx, a 4xx stops the walk, or every host failed. Hosts that fail
// are marked down for the host-down delay; the host that succeeds is
// marked up. Each host is tried at most once.
//
// The returned error is one of *ClientRequestError, *AggregatedFailure,
// *ConfigError, ErrBodyNotAllowed or a wrapped context error.
func (c *Client) Dispatch(ctx context.Context, d Descriptor) ([]byte, error) {
	body, _, err := c.dispatch(ctx, &d)
	return body, err
}

// DispatchJSON is Dispatch followed by decoding the body into out. A body
// that is not valid JSON yields a *DecodeError and is not retried.
func (c *Client) DispatchJSON(ctx context.Context, d Descriptor, out any) error {
	body, host, err := c.dispatch(ctx, &d)
	if err != nil {
		return err
	}
	return decodePayload(host, body, out)
}

func (c *Client) dispatch(ctx context.Context, d *Descriptor) (_ []byte, _ string, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = http.MethodGet
	}
	if d.Op == "" {
		d.Op = OpRaw
	}
	if len(d.Body) > 0 && method != http.MethodPost && method != http.MethodPut {
		return nil, "", fmt.Errorf("%w: %s %s", ErrBodyNotAllowed, method, d.Path)
	}
	if !strings.HasPrefix(d.Path, "/") {
		return nil, "", configErrorf("path", "%q must start with /", d.Path)
	}
	connectTimeout, readTimeout := c.timeouts(d)
	payload, sendKeyHeader := c.authenticate(ctx, method, d.Body)
	hosts := c.pool.Eligible(d.Role, c.tracker, c.HostDownDelay())

	ctx, span := c.startDispatchSpan(ctx, d, method)
	tried := 0
	defer func() { endDispatchSpan(span, tried, err) }()

	c.logTraceCtx(ctx, "client.dispatch.start",
		"op", d.Op, "method", method, "path", d.Path, "role", d.Role.String(), "hosts", hosts)

	var failures []Attempt
	for i, host := range hosts {
		if cerr := ctx.Err(); cerr != nil {
			return nil, "", fmt.Errorf("hsearch: %s %s: %w", method, d.Path, cerr)
		}
		tried++
		start := time.Now()
		data, aerr := c.attempt(ctx, host, method, d, payload, sendKeyHeader, connectTimeout, readTimeout)
		elapsed := time.Since(start)
		kv := []any{"op", d.Op, "host", host, "attempt", i + 1, "total", len(hosts), "elapsed", elapsed}

		switch {
		case aerr == nil:
			c.tracker.RecordSuccess(host)
			c.metrics.observeAttempt(ctx, d.Op, host, outcomeSuccess, elapsed)
			spanAttempt(span, host, i+1, outcomeSuccess, elapsed)
			c.logTraceCtx(ctx, "client.dispatch.success", kv...)
			return data, host, nil
		case ctx.Err() != nil:
			// The caller gave up; the host is not to blame.
			c.metrics.observeAttempt(ctx, d.Op, host, outcomeCancelled, elapsed)
			spanAttempt(span, host, i+1, outcomeCancelled, elapsed)
			c.logDebugCtx(ctx, "client.dispatch.cancelled", append(kv, "error", aerr)...)
			return nil, "", fmt.Errorf("hsearch: %s %s: %w", method, d.Path, ctx.Err())
		case !IsRetryable(aerr):
			c.metrics.observeAttempt(ctx, d.Op, host, outcomeFatal, elapsed)
			spanAttempt(span, host, i+1, outcomeFatal, elapsed)
			c.logDebugCtx(ctx, "client.dispatch.fatal", append(kv, "error", aerr)...)
			return nil, "", aerr
		default:
			c.tracker.RecordFailure(host)
			c.metrics.observeAttempt(ctx, d.Op, host, outcomeHostFailure, elapsed)
			spanAttempt(span, host, i+1, outcomeHostFailure, elapsed)
			failures = append(failures, Attempt{Host: host, Elapsed: elapsed, Err: aerr})
			c.logDebugCtx(ctx, "client.dispatch.host_failure", append(kv, "error", aerr)...)
		}
	}
	c.metrics.observeExhausted(ctx, d.Op)
	agg := &AggregatedFailure{Attempts: failures}
	c.logWarnCtx(ctx, "client.dispatch.exhausted", "op", d.Op, "path", d.Path, "hosts", hosts, "error", agg)
	return nil, "", agg
}

func (c *Client) attempt(ctx context.Context, host, method string, d *Descriptor, payload []byte, sendKeyHeader bool, connectTimeout, readTimeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout+readTimeout)
	defer cancel()
	attemptCtx = withConnectTimeout(attemptCtx, connectTimeout)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.scheme+"://"+host+d.Path, body)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	c.applyHeaders(ctx, req, d, payload != nil, sendKeyHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	defer resp.Body.Close()
	data, err := readBody(resp)
	if err != nil {
		return nil, &TransportError{Host: host, Err: fmt.Errorf("read body: %w", err)}
	}
	return classify(host, resp.StatusCode, data)
}

func (c *Client) applyHeaders(ctx context.Context, req *http.Request, d *Descriptor, hasBody, sendKeyHeader bool) {
	c.mu.RLock()
	for k, vals := range c.headers {
		req.Header[k] = append([]string(nil), vals...)
	}
	c.mu.RUnlock()
	req.Header.Set(HeaderApplicationID, c.appID)
	if sendKeyHeader {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	req.Header.Set(headerUserAgent, c.UserAgent())
	req.Header.Set("Accept-Encoding", "gzip")
	if hasBody {
		req.Header.Set(headerContentType, contentTypeJSON)
	}
	for k, vals := range d.Header {
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vals...)
	}
	if rid := RequestIDFromContext(ctx); rid != "" && req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, rid)
	}
}

func (c *Client) timeouts(d *Descriptor) (connect, read time.Duration) {
	c.mu.RLock()
	connect = c.connectTimeout
	read = c.readTimeout
	if d.Search {
		read = c.searchTimeout
	}
	c.mu.RUnlock()
	if d.ConnectTimeout > 0 {
		connect = d.ConnectTimeout
	}
	if d.ReadTimeout > 0 {
		read = d.ReadTimeout
	}
	return connect, read
}

// authenticate decides where the API key goes. Keys up to MaxAPIKeyLength
// travel in the header. Longer keys are merged into the JSON object body of
// PUT and POST requests as "apiKey"; a bodyless PUT or POST gets a body
// holding just the key. Methods that cannot carry a body keep the header.
func (c *Client) authenticate(ctx context.Context, method string, body []byte) ([]byte, bool) {
	if len(c.apiKey) <= MaxAPIKeyLength {
		return body, true
	}
	if method != http.MethodPost && method != http.MethodPut {
		c.logWarnCtx(ctx, "client.dispatch.oversized_api_key_header", "method", method, "length", len(c.apiKey))
		return body, true
	}
	if len(bytes.TrimSpace(body)) == 0 {
		payload, err := json.Marshal(map[string]string{"apiKey": c.apiKey})
		if err != nil {
			return body, true
		}
		return payload, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		c.logWarnCtx(ctx, "client.dispatch.oversized_api_key_header", "method", method, "length", len(c.apiKey), "reason", "body is not a JSON object")
		return body, true
	}
	key, _ := json.Marshal(c.apiKey)
	obj["apiKey"] = key
	merged, err := json.Marshal(obj)
	if err != nil {
		return body, true
	}
	return merged, false
}

func readBody(resp *http.Response) ([]byte, error) {
	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		return io.ReadAll(resp.Body)
	}
	zr, err := gzip.NewReader(resp.Body)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return data, nil
}
