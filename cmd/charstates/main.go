// Package main implements the charstates CLI: extract character states from
// a source document with an extraction model, score them with a judge model
// and write the accepted ones into a NEXUS file.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-charstates/internal/config"
)

var version = "dev"

// Persistent flags.
var (
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "charstates",
	Short: "Extract morphological character states with an LLM extractor and judge",
	Long: `charstates extracts one character and its states per character index
from a source document, scores each extraction with a judge model, retries
rejected or failed items, and writes the accepted characters into the
CHARSTATELABELS block of a NEXUS matrix.

Configuration is read from an optional YAML file, then CHARSTATES_*
environment variables, then flags. The Gemini API key is read from
provider.api_key or GEMINI_API_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the charstates version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("charstates %s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: json or text")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (empty to disable)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration with the flags the user set applied
// as overrides, then installs the configured logger as the default.
func loadConfig(cmd *cobra.Command, overrides map[string]any) (*config.Config, *slog.Logger, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		overrides["observability.log_level"] = logLevel
	}
	if flags.Changed("log-format") {
		overrides["observability.log_format"] = logFormat
	}
	if flags.Changed("metrics-addr") {
		overrides["observability.metrics_addr"] = metricsAddr
	}

	cfg, err := config.Load(config.Sources{Path: configPath, Overrides: overrides})
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := cfg.Observability.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
