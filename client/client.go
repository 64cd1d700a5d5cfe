package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/hsearch/hostpool"
	"pkt.systems/hsearch/internal/clock"
	"pkt.systems/hsearch/internal/loggingutil"
	"pkt.systems/hsearch/internal/version"
)

const (
	// DefaultConnectTimeout bounds establishing a connection to one host.
	DefaultConnectTimeout = 2 * time.Second
	// DefaultReadTimeout bounds reading the answer of a non-search request.
	DefaultReadTimeout = 30 * time.Second
	// DefaultSearchTimeout bounds reading the answer of a search request.
	DefaultSearchTimeout = 5 * time.Second
	// DefaultHostDownDelay is how long a failed host is skipped.
	DefaultHostDownDelay = 5 * time.Second
	// DefaultWorkers is the size of the client-owned request executor.
	DefaultWorkers = 4
	// MaxAPIKeyLength is the longest key sent in a header. Longer keys are
	// moved into the JSON body when the method allows one.
	MaxAPIKeyLength = 500
	// DefaultIndexCacheSize bounds the number of Index handles kept by InitIndex.
	DefaultIndexCacheSize = 64
)

// Header names sent on every request.
const (
	HeaderApplicationID = "X-Algolia-Application-Id"
	HeaderAPIKey        = "X-Algolia-API-Key"
	HeaderRequestID     = "X-Request-Id"
	headerUserAgent     = "User-Agent"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json; charset=UTF-8"
)

// LibraryVersion is one component of the User-Agent header.
type LibraryVersion struct {
	Name    string
	Version string
}

func (l LibraryVersion) String() string {
	return fmt.Sprintf("%s (%s)", l.Name, l.Version)
}

// Client dispatches requests for one application across its read and write
// hosts. It is safe for concurrent use.
type Client struct {
	appID  string
	apiKey string

	pool    *hostpool.Pool
	tracker *hostpool.Tracker
	clock   clock.Clock

	scheme         string
	httpClient     *http.Client
	ownedTransport *http.Transport
	otelHTTP       bool
	disableHTTP2   bool

	logger  pslog.Base
	tracer  trace.Tracer
	metrics *dispatchMetrics

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu             sync.RWMutex
	connectTimeout time.Duration
	readTimeout    time.Duration
	searchTimeout  time.Duration
	hostDownDelay  time.Duration
	headers        http.Header
	userAgents     []LibraryVersion

	readHosts  []string
	writeHosts []string

	workers        int
	requestExec    Executor
	completionExec Executor
	owned          []*WorkerPool

	indexMu    sync.Mutex
	indexes    map[string]*Index
	indexOrder []string
	// cacheSettings outlives evicted handles so a recreated handle gets
	// its search cache back.
	cacheSettings map[string]cacheSettings

	closeOnce sync.Once
}

// Option customises a Client.
type Option func(*Client)

// WithHosts uses hosts for both reads and writes instead of the defaults.
func WithHosts(hosts ...string) Option {
	return func(c *Client) {
		c.readHosts = append([]string{}, hosts...)
		c.writeHosts = append([]string{}, hosts...)
	}
}

// WithReadHosts overrides the read host list.
func WithReadHosts(hosts ...string) Option {
	return func(c *Client) {
		c.readHosts = append([]string{}, hosts...)
	}
}

// WithWriteHosts overrides the write host list.
func WithWriteHosts(hosts ...string) Option {
	return func(c *Client) {
		c.writeHosts = append([]string{}, hosts...)
	}
}

// WithConnectTimeout sets the per-host connect timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithReadTimeout sets the read timeout for non-search requests.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithSearchTimeout sets the read timeout for search requests.
func WithSearchTimeout(d time.Duration) Option {
	return func(c *Client) { c.searchTimeout = d }
}

// WithHostDownDelay sets how long a failed host is skipped.
func WithHostDownDelay(d time.Duration) Option {
	return func(c *Client) { c.hostDownDelay = d }
}

// WithHTTPClient supplies the HTTP client used for every attempt. The
// connect timeout is only enforced by transports the client builds itself.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithScheme overrides the URL scheme ("https" by default).
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = strings.ToLower(strings.TrimSpace(scheme)) }
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil disables logging.
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		c.logger = loggingutil.WithSubsystem(logger, "client.sdk")
	}
}

// WithClock replaces the clock used for host health bookkeeping and task
// polling.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithHeader adds a header sent on every request.
func WithHeader(name, value string) Option {
	return func(c *Client) { c.headers.Set(name, value) }
}

// WithUserAgent appends a library to the User-Agent header.
func WithUserAgent(name, ver string) Option {
	return func(c *Client) {
		c.userAgents = appendUserAgent(c.userAgents, LibraryVersion{Name: name, Version: ver})
	}
}

// WithWorkers sizes the client-owned request executor.
func WithWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// WithRequestExecutor runs asynchronous work on exec instead of a
// client-owned worker pool.
func WithRequestExecutor(exec Executor) Option {
	return func(c *Client) { c.requestExec = exec }
}

// WithCompletionExecutor delivers completion handlers on exec instead of a
// client-owned serial executor.
func WithCompletionExecutor(exec Executor) Option {
	return func(c *Client) { c.completionExec = exec }
}

// WithTracerProvider sets the provider for dispatch spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

// WithMeterProvider sets the provider for dispatch metrics. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// WithOTelHTTP wraps the transport with otelhttp so every attempt gets its
// own client span and trace propagation headers.
func WithOTelHTTP(enable bool) Option {
	return func(c *Client) { c.otelHTTP = enable }
}

// WithDisableHTTP2 keeps the client-owned transport on HTTP/1.1.
func WithDisableHTTP2(disable bool) Option {
	return func(c *Client) { c.disableHTTP2 = disable }
}

// New creates a client for appID authenticated with apiKey. Without host
// options the standard hosts derived from appID are used.
//
//	cli, err := client.New("APPID", "search-key")
//	if err != nil {
//	    return err
//	}
//	defer cli.Close()
//	res, err := cli.InitIndex("products").Search(ctx, client.NewQuery("phone"))
func New(appID, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		appID:          strings.TrimSpace(appID),
		apiKey:         strings.TrimSpace(apiKey),
		scheme:         "https",
		logger:         loggingutil.Discard(),
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		searchTimeout:  DefaultSearchTimeout,
		hostDownDelay:  DefaultHostDownDelay,
		headers:        make(http.Header),
		userAgents: []LibraryVersion{
			{Name: version.Name, Version: version.Current()},
			{Name: "Go", Version: version.Runtime()},
		},
		workers: DefaultWorkers,
		indexes: make(map[string]*Index),

		cacheSettings: make(map[string]cacheSettings),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if err := c.initialize(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize() error {
	if c.appID == "" {
		return configErrorf("app_id", "application id required")
	}
	if c.apiKey == "" {
		return configErrorf("api_key", "api key required")
	}
	if c.scheme != "http" && c.scheme != "https" {
		return configErrorf("scheme", "unsupported scheme %q", c.scheme)
	}
	for field, d := range map[string]time.Duration{
		"connect_timeout": c.connectTimeout,
		"read_timeout":    c.readTimeout,
		"search_timeout":  c.searchTimeout,
		"host_down_delay": c.hostDownDelay,
	} {
		if d <= 0 {
			return configErrorf(field, "must be positive, got %s", d)
		}
	}
	if c.workers <= 0 {
		return configErrorf("workers", "must be positive, got %d", c.workers)
	}
	read, write := c.readHosts, c.writeHosts
	if read == nil || write == nil {
		defRead, defWrite := hostpool.DefaultHosts(c.appID)
		if read == nil {
			read = defRead
		}
		if write == nil {
			write = defWrite
		}
	}
	pool, err := hostpool.New(read, write)
	if err != nil {
		return &ConfigError{Field: "hosts", Err: err}
	}
	c.pool = pool
	c.readHosts, c.writeHosts = nil, nil
	c.clock = clock.Or(c.clock)
	c.tracker = hostpool.NewTracker(c.clock)
	c.logger = loggingutil.Ensure(c.logger)
	c.tracer = newTracer(c.tracerProvider)
	c.metrics = newDispatchMetrics(c.meterProvider, c.logger)
	c.initTransport()
	if c.requestExec == nil {
		pool := NewWorkerPool(c.workers)
		c.owned = append(c.owned, pool)
		c.requestExec = pool
	}
	if c.completionExec == nil {
		serial := NewSerialExecutor()
		c.owned = append(c.owned, serial)
		c.completionExec = serial
	}
	c.logger.Debug("client.init",
		"app_id", c.appID,
		"read_hosts", c.pool.Hosts(hostpool.Read),
		"write_hosts", c.pool.Hosts(hostpool.Write),
		"workers", c.workers,
	)
	return nil
}

// Close stops the client-owned executors after their queued work ran and
// releases idle connections. It must not be called from a completion
// handler running on a client-owned executor.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	c.closeOnce.Do(func() {
		for _, p := range c.owned {
			errs = append(errs, p.Close())
		}
		if c.ownedTransport != nil {
			c.ownedTransport.CloseIdleConnections()
		}
	})
	return errors.Join(errs...)
}

// ApplicationID returns the configured application id.
func (c *Client) ApplicationID() string { return c.appID }

// ReadHosts returns the read host list.
func (c *Client) ReadHosts() []string { return c.pool.Hosts(hostpool.Read) }

// WriteHosts returns the write host list.
func (c *Client) WriteHosts() []string { return c.pool.Hosts(hostpool.Write) }

// SetReadHosts replaces the read host list. In-flight dispatches keep the
// list they started with.
func (c *Client) SetReadHosts(hosts ...string) error {
	if err := c.pool.SetReadHosts(hosts...); err != nil {
		return &ConfigError{Field: "read_hosts", Err: err}
	}
	return nil
}

// SetWriteHosts replaces the write host list.
func (c *Client) SetWriteHosts(hosts ...string) error {
	if err := c.pool.SetWriteHosts(hosts...); err != nil {
		return &ConfigError{Field: "write_hosts", Err: err}
	}
	return nil
}

// SetHosts replaces both host lists.
func (c *Client) SetHosts(hosts ...string) error {
	if err := c.pool.SetHosts(hosts...); err != nil {
		return &ConfigError{Field: "hosts", Err: err}
	}
	return nil
}

// HostStatus returns the recorded health of host.
func (c *Client) HostStatus(host string) (hostpool.Status, bool) {
	return c.tracker.Status(host)
}

// HostStatuses returns the recorded health of every host seen so far.
func (c *Client) HostStatuses() map[string]hostpool.Status {
	return c.tracker.Snapshot()
}

// ResetHostStatus forgets every recorded host failure.
func (c *Client) ResetHostStatus() {
	c.tracker.Reset()
}

// EligibleHosts returns the hosts the next dispatch of role would try, in order.
func (c *Client) EligibleHosts(role hostpool.Role) []string {
	return c.pool.Eligible(role, c.tracker, c.HostDownDelay())
}

func (c *Client) setDuration(field string, dst *time.Duration, d time.Duration) error {
	if d <= 0 {
		return configErrorf(field, "must be positive, got %s", d)
	}
	c.mu.Lock()
	*dst = d
	c.mu.Unlock()
	return nil
}

func (c *Client) getDuration(src *time.Duration) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *src
}

// ConnectTimeout returns the connect timeout.
func (c *Client) ConnectTimeout() time.Duration { return c.getDuration(&c.connectTimeout) }

// ReadTimeout returns the read timeout for non-search requests.
func (c *Client) ReadTimeout() time.Duration { return c.getDuration(&c.readTimeout) }

// SearchTimeout returns the read timeout for search requests.
func (c *Client) SearchTimeout() time.Duration { return c.getDuration(&c.searchTimeout) }

// HostDownDelay returns the host cool-down window.
func (c *Client) HostDownDelay() time.Duration { return c.getDuration(&c.hostDownDelay) }

// SetConnectTimeout changes the connect timeout.
func (c *Client) SetConnectTimeout(d time.Duration) error {
	return c.setDuration("connect_timeout", &c.connectTimeout, d)
}

// SetReadTimeout changes the read timeout for non-search requests.
func (c *Client) SetReadTimeout(d time.Duration) error {
	return c.setDuration("read_timeout", &c.readTimeout, d)
}

// SetSearchTimeout changes the read timeout for search requests.
func (c *Client) SetSearchTimeout(d time.Duration) error {
	return c.setDuration("search_timeout", &c.searchTimeout, d)
}

// SetHostDownDelay changes the host cool-down window.
func (c *Client) SetHostDownDelay(d time.Duration) error {
	return c.setDuration("host_down_delay", &c.hostDownDelay, d)
}

// SetHeader sets a header sent on every request. An empty value removes it.
func (c *Client) SetHeader(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		c.headers.Del(name)
		return
	}
	c.headers.Set(name, value)
}

// Header returns the value of a client-wide header.
func (c *Client) Header(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers.Get(name)
}

// AddUserAgent appends a library to the User-Agent header. Adding the same
// library twice has no effect.
func (c *Client) AddUserAgent(name, ver string) {
	c.mu.Lock()
	c.userAgents = appendUserAgent(c.userAgents, LibraryVersion{Name: name, Version: ver})
	c.mu.Unlock()
}

// RemoveUserAgent drops a library from the User-Agent header.
func (c *Client) RemoveUserAgent(name, ver string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.userAgents[:0]
	for _, ua := range c.userAgents {
		if ua.Name == name && ua.Version == ver {
			continue
		}
		kept = append(kept, ua)
	}
	c.userAgents = kept
}

// UserAgents returns the libraries advertised in the User-Agent header.
func (c *Client) UserAgents() []LibraryVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]LibraryVersion(nil), c.userAgents...)
}

// UserAgent returns the User-Agent header value.
func (c *Client) UserAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parts := make([]string, len(c.userAgents))
	for i, ua := range c.userAgents {
		parts[i] = ua.String()
	}
	return strings.Join(parts, "; ")
}

func appendUserAgent(list []LibraryVersion, lv LibraryVersion) []LibraryVersion {
	for _, ua := range list {
		if ua == lv {
			return list
		}
	}
	return append(list, lv)
}

// InitIndex returns a handle for the named index. Handles are cached per
// client; the oldest handle is dropped once DefaultIndexCacheSize is reached.
// A handle recreated after eviction keeps the search cache configuration of
// its predecessor, but starts with an empty cache.
func (c *Client) InitIndex(name string) *Index {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if idx, ok := c.indexes[name]; ok {
		return idx
	}
	idx := newIndex(c, name)
	if cs, ok := c.cacheSettings[name]; ok {
		idx.cache = newSearchCache(cs.ttl, cs.size)
	}
	if len(c.indexOrder) >= DefaultIndexCacheSize {
		oldest := c.indexOrder[0]
		c.indexOrder = c.indexOrder[1:]
		delete(c.indexes, oldest)
	}
	c.indexes[name] = idx
	c.indexOrder = append(c.indexOrder, name)
	return idx
}

type cacheSettings struct {
	ttl  time.Duration
	size int
}

func (c *Client) rememberSearchCache(name string, cs *cacheSettings) {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()
	if cs == nil {
		delete(c.cacheSettings, name)
		return
	}
	c.cacheSettings[name] = *cs
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Trace(msg, enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Debug(msg, enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	c.logger.Warn(msg, enrichKeyvals(ctx, keyvals)...)
}

func enrichKeyvals(ctx context.Context, keyvals []any) []any {
	rid := RequestIDFromContext(ctx)
	if rid == "" {
		return keyvals
	}
	out := make([]any, 0, len(keyvals)+2)
	out = append(out, keyvals...)
	return append(out, "rid", rid)
}
