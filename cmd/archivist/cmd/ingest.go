package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/ingest"
	"github.com/lifearchivist/core/internal/output"
)

func newIngestCmd() *cobra.Command {
	var tags string

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Import a single file into the archive",
		Args:  cobra.ExactArgs(1),
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

			var tagList []string
			if tags != "" {
				tagList = strings.Split(tags, ",")
			}

			result, err := application.pipeline.Ingest(c.Context(), ingest.Input{Path: args[0], Tags: tagList})
			if err != nil {
				return err
			}

			out := output.New(c.OutOrStdout())
			if result.Duplicate {
				out.Statusf("dup", "already archived as %s", result.ExistingDocumentID)
				return nil
			}
			out.Successf("imported %s (%d chunks, hash %s)", result.DocumentID, result.ChunkCount, result.Hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags to attach")
	return cmd
}
