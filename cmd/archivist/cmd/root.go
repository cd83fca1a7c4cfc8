// Package cmd provides the CLI commands for archivist: the personal
// document archive & retrieval system's operator-facing binary, wiring
// C1-C15 plus the tool registry (A5) behind a Cobra command tree.
//
// Grounded on the teacher's cmd/amanmcp/cmd/root.go: one file per
// subcommand, a NewRootCmd/Execute pair, persistent flags bound to config,
// PersistentPreRunE wiring shared setup (here: config + logging, the
// profiling/debug-mode hooks having no SPEC_FULL.md driver).
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/config"
	"github.com/lifearchivist/core/internal/logging"
)

var (
	configPath  string
	loggingDone func()
)

// NewRootCmd creates the root command for the archivist CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archivist",
		Short: "Personal document archive and retrieval system",
		Long: `archivist ingests documents into a content-addressed vault, indexes
them for hybrid keyword + semantic search, answers questions over the
archive via an LLM, and can watch folders for new files automatically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults apply if omitted)")
	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup, err := logging.Setup(logging.DefaultConfig(cfg.Vault.LifearchivistHome))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingDone = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingDone != nil {
		loggingDone()
		loggingDone = nil
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
