package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-frob-oauth/internal/config"
)

// configPath is the optional YAML configuration file
var configPath string

// rootCmd is the entry point when the binary is called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "mcp-frob-oauth",
	Short: "Expose a frob-based desktop auth API as an OAuth 2.0 authorization server",
	Long: `mcp-frob-oauth lets OAuth 2.0 clients such as MCP hosts sign users in to a
task service that only offers the legacy desktop "frob" flow.

Settings are read from --config (YAML), a .env file in the working directory
and FROB_OAUTH_* environment variables, in increasing precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newHashSecretCmd())
	rootCmd.AddCommand(newGenerateKeyCmd())
	rootCmd.AddCommand(newCheckTokenCmd())
}

// Execute runs the root command and exits non-zero on failure
func Execute(v string) {
	rootCmd.Version = v
	rootCmd.SetVersionTemplate(`{{printf "mcp-frob-oauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the log settings
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or text)", cfg.Format)
	}
}
