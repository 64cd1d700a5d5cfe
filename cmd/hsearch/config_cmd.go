package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/hsearch"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage hsearch configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	cmd.AddCommand(newConfigExportKeyCommand())
	return cmd
}

func newConfigExportKeyCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "export-key <path>",
		Short: "Generate a root key bundle for encrypted exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath := args[0]
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("key bundle %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat key bundle: %w", err)
				}
			}
			bundle, err := hsearch.NewExportKeyBundle()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
				return fmt.Errorf("create key dir: %w", err)
			}
			if err := os.WriteFile(outPath, bundle, 0o600); err != nil {
				return fmt.Errorf("write key bundle: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote export key bundle to %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.hsearch/" + hsearch.DefaultConfigFileName
	if path, err := hsearch.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default hsearch configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				path, err := hsearch.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}

			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			// The file holds the API key.
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the root persistent flags. Durations are rendered as
// strings so the file stays readable.
type configDefaults struct {
	AppID           string            `yaml:"app-id"`
	APIKey          string            `yaml:"api-key"`
	Hosts           []string          `yaml:"hosts"`
	ReadHosts       []string          `yaml:"read-hosts"`
	WriteHosts      []string          `yaml:"write-hosts"`
	Scheme          string            `yaml:"scheme"`
	ConnectTimeout  string            `yaml:"connect-timeout"`
	ReadTimeout     string            `yaml:"read-timeout"`
	SearchTimeout   string            `yaml:"search-timeout"`
	HostDownDelay   string            `yaml:"host-down-delay"`
	Workers         int               `yaml:"workers"`
	UserAgent       []string          `yaml:"user-agent"`
	Header          map[string]string `yaml:"header"`
	OTelHTTP        bool              `yaml:"otel-http"`
	DisableHTTP2    bool              `yaml:"disable-http2"`
	SearchCacheTTL  string            `yaml:"search-cache-ttl"`
	SearchCacheSize int               `yaml:"search-cache-size"`
	LogLevel        string            `yaml:"log-level"`
	OTLPEndpoint    string            `yaml:"otlp-endpoint"`
	MetricsListen   string            `yaml:"metrics-listen"`
	PprofListen     string            `yaml:"pprof-listen"`
	RuntimeMetrics  bool              `yaml:"runtime-metrics"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	def := hsearch.DefaultConfig()
	defaults := configDefaults{
		AppID:           "",
		APIKey:          "",
		Hosts:           []string{},
		ReadHosts:       []string{},
		WriteHosts:      []string{},
		Scheme:          def.Scheme,
		ConnectTimeout:  def.ConnectTimeout.String(),
		ReadTimeout:     def.ReadTimeout.String(),
		SearchTimeout:   def.SearchTimeout.String(),
		HostDownDelay:   def.HostDownDelay.String(),
		Workers:         def.Workers,
		UserAgent:       []string{},
		Header:          map[string]string{},
		SearchCacheTTL:  "0s",
		SearchCacheSize: 0,
		LogLevel:        "warn",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
