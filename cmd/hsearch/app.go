package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/hsearch"
	"pkt.systems/hsearch/client"
	"pkt.systems/hsearch/internal/loggingutil"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("HSEARCH_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.WarnLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "hsearch")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "hsearch: %s\n", err)
		}
		return 1
	}
	return 0
}

// cli carries state shared by every subcommand of one root command. Each
// root owns its own viper instance so commands can be built repeatedly in
// tests.
type cli struct {
	v          *viper.Viper
	baseLogger pslog.Logger
	configFile string
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	app := &cli{v: viper.New(), baseLogger: baseLogger}
	cmd := &cobra.Command{
		Use:           "hsearch",
		Short:         "hsearch talks to a hosted search application across all of its hosts",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Search an index using credentials from the environment
  HSEARCH_APP_ID=APPID HSEARCH_API_KEY=secret hsearch search products phone

  # Pin explicit hosts (comma separated) and a tighter read timeout
  hsearch --hosts h1.example.net,h2.example.net --read-timeout 2s object get products sku-1

  # Export an index to MinIO
  hsearch export products --to s3://localhost:9000/backups?insecure=1

  # Benchmark searches with Prometheus metrics on :9464
  hsearch --metrics-listen :9464 bench products --query phone --requests 5000 --concurrency 32
`,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.hsearch/"+hsearch.DefaultConfigFileName+")")
	flags.String("app-id", "", "application id")
	flags.String("api-key", "", "API key")
	flags.StringSlice("hosts", nil, "hosts used for both reads and writes (defaults derive from the app id)")
	flags.StringSlice("read-hosts", nil, "hosts used for reads")
	flags.StringSlice("write-hosts", nil, "hosts used for writes")
	flags.String("scheme", hsearch.DefaultScheme, "URL scheme (https or http)")
	flags.Duration("connect-timeout", hsearch.DefaultConnectTimeout, "connect timeout per host attempt")
	flags.Duration("read-timeout", hsearch.DefaultReadTimeout, "read timeout per host attempt")
	flags.Duration("search-timeout", hsearch.DefaultSearchTimeout, "read timeout per host attempt for searches")
	flags.Duration("host-down-delay", hsearch.DefaultHostDownDelay, "how long a failed host is skipped")
	flags.Int("workers", hsearch.DefaultWorkers, "request workers for asynchronous calls")
	flags.StringSlice("user-agent", nil, "extra name/version user agent segments")
	flags.StringToString("header", nil, "extra request headers (name=value)")
	flags.Bool("otel-http", false, "instrument the HTTP transport with OpenTelemetry")
	flags.Bool("disable-http2", false, "disable HTTP/2 on the owned transport")
	flags.Duration("search-cache-ttl", 0, "cache identical searches for this long (0 disables)")
	flags.Int("search-cache-size", 0, "maximum cached searches per index")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error); overrides HSEARCH_LOG_LEVEL")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for traces (grpc://, grpcs://, http://, https://)")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address (empty disables)")
	flags.String("pprof-listen", "", "serve pprof on this address (empty disables)")
	flags.Bool("runtime-metrics", false, "add Go runtime metrics to the Prometheus endpoint")

	app.v.SetEnvPrefix("HSEARCH")
	app.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	app.v.AutomaticEnv()
	for _, name := range []string{
		"config", "app-id", "api-key", "hosts", "read-hosts", "write-hosts", "scheme",
		"connect-timeout", "read-timeout", "search-timeout", "host-down-delay", "workers",
		"user-agent", "header", "otel-http", "disable-http2", "search-cache-ttl", "search-cache-size",
		"log-level", "otlp-endpoint", "metrics-listen", "pprof-listen", "runtime-metrics",
	} {
		if err := app.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	cmd.AddCommand(newSearchCommand(app))
	cmd.AddCommand(newObjectCommand(app))
	cmd.AddCommand(newIndexCommand(app))
	cmd.AddCommand(newExportCommand(app))
	cmd.AddCommand(newHostsCommand(app))
	cmd.AddCommand(newBenchCommand(app))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (a *cli) loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(a.v.GetString("config"))
	explicit := cfgPath != ""
	if cfgPath == "" {
		if candidate, err := hsearch.DefaultConfigPath(); err == nil {
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	a.v.SetConfigFile(expanded)
	if err := a.v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	a.configFile = expanded
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

// bindConfig reads flags, environment and config file (in that order of
// precedence) into a validated hsearch.Config.
func (a *cli) bindConfig() (hsearch.Config, error) {
	v := a.v
	cfg := hsearch.Config{
		AppID:           v.GetString("app-id"),
		APIKey:          v.GetString("api-key"),
		Hosts:           v.GetStringSlice("hosts"),
		ReadHosts:       v.GetStringSlice("read-hosts"),
		WriteHosts:      v.GetStringSlice("write-hosts"),
		Scheme:          v.GetString("scheme"),
		ConnectTimeout:  v.GetDuration("connect-timeout"),
		ReadTimeout:     v.GetDuration("read-timeout"),
		SearchTimeout:   v.GetDuration("search-timeout"),
		HostDownDelay:   v.GetDuration("host-down-delay"),
		Workers:         v.GetInt("workers"),
		UserAgents:      v.GetStringSlice("user-agent"),
		Headers:         v.GetStringMapString("header"),
		OTelHTTP:        v.GetBool("otel-http"),
		DisableHTTP2:    v.GetBool("disable-http2"),
		SearchCacheTTL:  v.GetDuration("search-cache-ttl"),
		SearchCacheSize: v.GetInt("search-cache-size"),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (a *cli) logger() pslog.Logger {
	logger := a.baseLogger
	if lvl := strings.TrimSpace(a.v.GetString("log-level")); lvl != "" {
		if level, ok := pslog.ParseLevel(lvl); ok {
			logger = logger.LogLevel(level)
		}
	}
	return logger
}

func (a *cli) subsystemLogger(name string) pslog.Logger {
	return loggingutil.Full(loggingutil.WithSubsystem(a.logger(), name))
}

// session is an open client plus everything that must be torn down with it.
type session struct {
	cfg       hsearch.Config
	client    *client.Client
	telemetry *hsearch.Telemetry
	logger    pslog.Logger
}

func (s *session) Close() {
	if s == nil {
		return
	}
	_ = s.client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Warn("cli.telemetry.shutdown_failed", "error", err)
	}
}

func (a *cli) openSession(cmd *cobra.Command, extra ...client.Option) (*session, error) {
	configFile, err := a.loadConfigFile()
	if err != nil {
		return nil, err
	}
	logger := a.subsystemLogger("cli." + cmd.Name())
	if configFile != "" {
		logger.Debug("cli.config.loaded", "path", configFile)
	}
	cfg, err := a.bindConfig()
	if err != nil {
		return nil, err
	}
	tel, err := hsearch.SetupTelemetry(cmd.Context(), hsearch.TelemetryConfig{
		OTLPEndpoint:   a.v.GetString("otlp-endpoint"),
		MetricsListen:  a.v.GetString("metrics-listen"),
		PprofListen:    a.v.GetString("pprof-listen"),
		RuntimeMetrics: a.v.GetBool("runtime-metrics"),
	}, a.subsystemLogger("telemetry"))
	if err != nil {
		return nil, err
	}
	opts := append(tel.ClientOptions(), extra...)
	c, err := hsearch.NewClient(cfg, loggingutil.WithSubsystem(a.logger(), "client.sdk"), opts...)
	if err != nil {
		_ = tel.Shutdown(cmd.Context())
		return nil, err
	}
	return &session{cfg: cfg, client: c, telemetry: tel, logger: logger}, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// readPayload returns --data when set, else the contents of --file, where
// "-" reads stdin.
func readPayload(cmd *cobra.Command, data, file string) (json.RawMessage, error) {
	var raw []byte
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("--data and --file are mutually exclusive")
	case data != "":
		raw = []byte(data)
	case file == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("provide a JSON document with --data or --file")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
