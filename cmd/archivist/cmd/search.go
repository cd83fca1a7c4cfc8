package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/output"
	"github.com/lifearchivist/core/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var mode string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the archive with BM25 + semantic hybrid retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := newApp(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			results, err := application.search.Search(c.Context(), search.Mode(mode), query, limit, nil)
			if err != nil {
				return err
			}

			out := output.New(c.OutOrStdout())
			if len(results) == 0 {
				out.Warning("no results")
				return nil
			}
			for i, r := range results {
				out.Statusf(">", "%d. [%s] %.3f  %s", i+1, r.SearchType, r.Score, r.DocumentID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", "hybrid", "search mode: semantic, keyword, hybrid")
	return cmd
}
