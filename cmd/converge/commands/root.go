package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/converge/pkg/telemetry"
)

// Environment variables consulted when the matching flag is not set.
const (
	envWorkspace = "CONVERGE_WORKSPACE_ID"
	envEndpoint  = "CONVERGE_ENDPOINT"
	envToken     = "CONVERGE_TOKEN"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	workspace     string
	endpoint      string
	token         string
	insecure      bool
	maxRetries    int
	logLevel      string
	logLevelSet   bool
	logFormat     string
	traceExporter string
	traceEndpoint string
	metricsAddr   string
	version       string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "converge - declarative application reconciliation",
		Long: `converge reconciles an application's desired state, written as YAML, JSON,
CUE or Starlark, with the resources held by a remote control plane.

Features:
  - Change sets computed per resource kind, in parallel
  - Ownership labels keep applications from deleting each other's resources
  - Confirmation before ownership transfers, adoptions and data loss
  - Ordered apply phases so references never dangle
  - Plan policies written in Rego
  - A local control-plane emulator for development`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.applyEnv()
			opts.logLevelSet = cmd.Flags().Changed("log-level")
			if opts.logLevelSet || os.Getenv("LOG_LEVEL") == "" {
				zerolog.SetGlobalLevel(telemetry.ParseLevel(opts.logLevel))
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.workspace, "workspace", "w", "", "workspace id (env "+envWorkspace+")")
	flags.StringVarP(&opts.endpoint, "endpoint", "e", "", "control plane host:port (env "+envEndpoint+")")
	flags.StringVar(&opts.token, "token", "", "control plane bearer token (env "+envToken+")")
	flags.BoolVar(&opts.insecure, "insecure", false, "connect to the control plane without TLS")
	flags.IntVar(&opts.maxRetries, "max-retries", 2, "retries for transient control plane errors")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&opts.traceExporter, "trace-exporter", "none", "trace exporter (otlp, stdout, none)")
	flags.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP collector host:port")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newApplyCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newRemoveCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newDevCommand(opts))
	rootCmd.AddCommand(newEmulatorCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))

	return rootCmd
}

func (o *globalOptions) applyEnv() {
	if o.workspace == "" {
		o.workspace = os.Getenv(envWorkspace)
	}
	if o.endpoint == "" {
		o.endpoint = os.Getenv(envEndpoint)
	}
	if o.token == "" {
		o.token = os.Getenv(envToken)
	}
}

// telemetryConfig applies the global flags to base. The base log level is
// kept unless --log-level was given.
func (o *globalOptions) telemetryConfig(base *telemetry.Config) *telemetry.Config {
	cfg := base
	cfg.ServiceVersion = o.version
	if o.logLevelSet {
		cfg.Logging.Level = o.logLevel
	}
	cfg.Logging.Format = o.logFormat
	if o.traceExporter != "" && o.traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = o.traceExporter
		cfg.Tracing.Endpoint = o.traceEndpoint
	}
	cfg.Metrics.ListenAddress = o.metricsAddr
	return cfg
}
