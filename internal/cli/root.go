// Package cli implements the brewtune command tree: upload, info and
// history, plus the terminal prompts and progress rendering they share.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brewtune/brewtune/internal/config"
	"github.com/brewtune/brewtune/internal/logging"
)

type rootOptions struct {
	configPath string
}

// load resolves config and logger for a subcommand run.
func (o *rootOptions) load() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

func newLogger(level string) logging.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return logging.NewSlogLogger(slog.New(handler))
}

// NewRootCmd builds the brewtune command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "brewtune",
		Short:         "Publish macOS installer packages to Microsoft Intune",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to JSON config file")

	cmd.AddCommand(
		newUploadCmd(opts),
		newInfoCmd(opts),
		newHistoryCmd(opts),
	)
	return cmd
}

// Execute runs the command tree and exits non-zero on error.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
