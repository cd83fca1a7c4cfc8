package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/output"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print vault, queue, and watched-folder status",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := newApp(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			out := output.New(c.OutOrStdout())

			stats := application.vault.Stats()
			out.Statusf("vault", "%d content file(s), %d bytes", stats.ContentFiles, stats.ContentBytes)

			queued, processing, completed, failed, err := application.queue.Lengths(c.Context())
			if err != nil {
				out.Errorf("enrichment queue: %s", err.Error())
			} else {
				out.Statusf("queue", "queued=%d processing=%d completed=%d failed=%d", queued, processing, completed, failed)
			}

			folders := application.watcher.ListFolders()
			if len(folders) == 0 {
				out.Status("folders", "no watched folders")
			} else {
				for _, f := range folders {
					out.Statusf("folder", "%s  %-8s  %s", f.ID, f.Status, f.Path)
				}
			}
			return nil
		},
	}
}
