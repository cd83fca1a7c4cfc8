package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/output"
)

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question over the archive and synthesize an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application, err := newApp(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			answer, err := application.query.Ask(c.Context(), question, nil)
			if err != nil {
				return err
			}

			out := output.New(c.OutOrStdout())
			out.Success(answer.Answer)
			out.Statusf("i", "confidence %.3f, method %s, %d source(s)", answer.ConfidenceScore, answer.Method, len(answer.Sources))
			for _, s := range answer.Sources {
				out.Statusf("-", "%s (score %.3f)", s.DocumentID, s.Score)
			}
			return nil
		},
	}
	return cmd
}
