package hsearch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hsearch/client"
)

const (
	// DefaultConnectTimeout mirrors client.DefaultConnectTimeout.
	DefaultConnectTimeout = client.DefaultConnectTimeout
	// DefaultReadTimeout mirrors client.DefaultReadTimeout.
	DefaultReadTimeout = client.DefaultReadTimeout
	// DefaultSearchTimeout mirrors client.DefaultSearchTimeout.
	DefaultSearchTimeout = client.DefaultSearchTimeout
	// DefaultHostDownDelay mirrors client.DefaultHostDownDelay.
	DefaultHostDownDelay = client.DefaultHostDownDelay
	// DefaultWorkers mirrors client.DefaultWorkers.
	DefaultWorkers = client.DefaultWorkers
	// DefaultScheme is used for every host.
	DefaultScheme = "https"
	// DefaultConfigFileName is the file read from DefaultConfigDir.
	DefaultConfigFileName = "config.yaml"
)

// Config captures everything needed to build a client.Client from flags,
// environment or a config file.
type Config struct {
	AppID  string `yaml:"app-id" mapstructure:"app-id"`
	APIKey string `yaml:"api-key" mapstructure:"api-key"`

	// Hosts, when set, is used for both roles unless ReadHosts/WriteHosts
	// override one of them.
	Hosts      []string `yaml:"hosts,omitempty" mapstructure:"hosts"`
	ReadHosts  []string `yaml:"read-hosts,omitempty" mapstructure:"read-hosts"`
	WriteHosts []string `yaml:"write-hosts,omitempty" mapstructure:"write-hosts"`
	Scheme     string   `yaml:"scheme,omitempty" mapstructure:"scheme"`

	ConnectTimeout time.Duration `yaml:"connect-timeout" mapstructure:"connect-timeout"`
	ReadTimeout    time.Duration `yaml:"read-timeout" mapstructure:"read-timeout"`
	SearchTimeout  time.Duration `yaml:"search-timeout" mapstructure:"search-timeout"`
	HostDownDelay  time.Duration `yaml:"host-down-delay" mapstructure:"host-down-delay"`

	Workers int `yaml:"workers" mapstructure:"workers"`

	// UserAgents are extra "name/version" pairs appended to the User-Agent.
	UserAgents []string `yaml:"user-agent,omitempty" mapstructure:"user-agent"`
	// Headers are sent on every request.
	Headers map[string]string `yaml:"header,omitempty" mapstructure:"header"`

	OTelHTTP     bool `yaml:"otel-http" mapstructure:"otel-http"`
	DisableHTTP2 bool `yaml:"disable-http2" mapstructure:"disable-http2"`

	// SearchCacheTTL enables the per-index search cache when positive.
	SearchCacheTTL  time.Duration `yaml:"search-cache-ttl,omitempty" mapstructure:"search-cache-ttl"`
	SearchCacheSize int           `yaml:"search-cache-size,omitempty" mapstructure:"search-cache-size"`
}

// DefaultConfig returns a Config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		Scheme:         DefaultScheme,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		SearchTimeout:  DefaultSearchTimeout,
		HostDownDelay:  DefaultHostDownDelay,
		Workers:        DefaultWorkers,
	}
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	c.AppID = strings.TrimSpace(c.AppID)
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.AppID == "" {
		return fmt.Errorf("config: app id is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("config: api key is required")
	}
	c.Scheme = strings.ToLower(strings.TrimSpace(c.Scheme))
	if c.Scheme == "" {
		c.Scheme = DefaultScheme
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("config: scheme must be http or https, got %q", c.Scheme)
	}
	for _, d := range []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"connect timeout", &c.ConnectTimeout, DefaultConnectTimeout},
		{"read timeout", &c.ReadTimeout, DefaultReadTimeout},
		{"search timeout", &c.SearchTimeout, DefaultSearchTimeout},
		{"host down delay", &c.HostDownDelay, DefaultHostDownDelay},
	} {
		if *d.val < 0 {
			return fmt.Errorf("config: %s must be >= 0", d.name)
		}
		if *d.val == 0 {
			*d.val = d.def
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 0")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	var err error
	if c.Hosts, err = cleanHosts("hosts", c.Hosts); err != nil {
		return err
	}
	if c.ReadHosts, err = cleanHosts("read hosts", c.ReadHosts); err != nil {
		return err
	}
	if c.WriteHosts, err = cleanHosts("write hosts", c.WriteHosts); err != nil {
		return err
	}
	for _, ua := range c.UserAgents {
		if _, _, ok := splitUserAgent(ua); !ok {
			return fmt.Errorf("config: user agent %q must be name/version", ua)
		}
	}
	if c.SearchCacheTTL < 0 || c.SearchCacheSize < 0 {
		return fmt.Errorf("config: search cache ttl and size must be >= 0")
	}
	return nil
}

// cleanHosts trims entries and drops empty ones produced by comma lists
// such as "a,,b". A list that was given but is empty after cleaning is an
// error.
func cleanHosts(name string, hosts []string) ([]string, error) {
	if len(hosts) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: %s given but empty", name)
	}
	return out, nil
}

func splitUserAgent(ua string) (string, string, bool) {
	name, ver, ok := strings.Cut(strings.TrimSpace(ua), "/")
	name, ver = strings.TrimSpace(name), strings.TrimSpace(ver)
	return name, ver, ok && name != "" && ver != ""
}

// ClientOptions translates c into client options. Validate must have been
// called.
func (c Config) ClientOptions(logger pslog.Base) []client.Option {
	opts := []client.Option{
		client.WithScheme(c.Scheme),
		client.WithConnectTimeout(c.ConnectTimeout),
		client.WithReadTimeout(c.ReadTimeout),
		client.WithSearchTimeout(c.SearchTimeout),
		client.WithHostDownDelay(c.HostDownDelay),
		client.WithWorkers(c.Workers),
		client.WithOTelHTTP(c.OTelHTTP),
		client.WithDisableHTTP2(c.DisableHTTP2),
	}
	if logger != nil {
		opts = append(opts, client.WithLogger(logger))
	}
	if len(c.Hosts) > 0 {
		opts = append(opts, client.WithHosts(c.Hosts...))
	}
	if len(c.ReadHosts) > 0 {
		opts = append(opts, client.WithReadHosts(c.ReadHosts...))
	}
	if len(c.WriteHosts) > 0 {
		opts = append(opts, client.WithWriteHosts(c.WriteHosts...))
	}
	for _, ua := range c.UserAgents {
		name, ver, _ := splitUserAgent(ua)
		opts = append(opts, client.WithUserAgent(name, ver))
	}
	for k, v := range c.Headers {
		opts = append(opts, client.WithHeader(k, v))
	}
	return opts
}

// NewClient validates cfg and builds a client. extra options are applied
// after the ones derived from cfg.
func NewClient(cfg Config, logger pslog.Base, extra ...client.Option) (*client.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := append(cfg.ClientOptions(logger), extra...)
	return client.New(cfg.AppID, cfg.APIKey, opts...)
}

// InitIndex opens name on cli and applies the search cache settings of cfg.
// Each call starts a fresh cache.
func (c Config) InitIndex(cli *client.Client, name string) *client.Index {
	idx := cli.InitIndex(name)
	if c.SearchCacheTTL > 0 {
		idx.EnableSearchCache(c.SearchCacheTTL, c.SearchCacheSize)
	}
	return idx
}

// DefaultConfigDir returns the default configuration directory
// ($HOME/.hsearch), overridable with HSEARCH_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("HSEARCH_CONFIG_DIR")); override != "" {
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hsearch"), nil
}

// DefaultConfigPath returns the config file read when --config is not set.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
