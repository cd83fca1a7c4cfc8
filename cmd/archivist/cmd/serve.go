package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/enrich"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the folder watcher and enrichment worker until interrupted",
		Long: `serve resumes any previously registered watch folders (§4.10's
initialize step) and runs the background enrichment worker (C15) under
supervision. It blocks until SIGINT/SIGTERM, draining in-flight work before
exiting.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runServe(c.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.watcher.Initialize(ctx); err != nil {
		slog.Error("folder watcher initialize failed", slog.String("error", err.Error()))
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := enrich.New(enrich.Config{}, application.queue, application.tracker, application.llm, application.activity)

	slog.Info("archivist serving", slog.String("vault", cfg.Vault.Path))
	enrich.Supervise(runCtx, worker.Run)

	slog.Info("archivist shutting down")
	return nil
}
