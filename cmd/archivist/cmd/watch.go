package cmd

import (
	"github.com/spf13/cobra"

	"github.com/lifearchivist/core/internal/output"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage watched folders (C12)",
	}
	cmd.AddCommand(newWatchAddCmd(), newWatchRemoveCmd(), newWatchListCmd())
	return cmd
}

func newWatchAddCmd() *cobra.Command {
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Register a folder to watch for new files",
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

			id, err := application.watcher.AddFolder(c.Context(), args[0], !disabled)
			if err != nil {
				return err
			}

			out := output.New(c.OutOrStdout())
			out.Successf("watching %s as folder %s", args[0], id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register the folder without enabling it")
	return cmd
}

func newWatchRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <folder-id>",
		Short: "Stop watching a folder",
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

			if err := application.watcher.RemoveFolder(c.Context(), args[0]); err != nil {
				return err
			}

			output.New(c.OutOrStdout()).Successf("removed folder %s", args[0])
			return nil
		},
	}
}

func newWatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched folders and their status",
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
			folders := application.watcher.ListFolders()
			if len(folders) == 0 {
				out.Warning("no watched folders")
				return nil
			}
			for _, f := range folders {
				out.Statusf(">", "%s  %-8s  %s  (ingested %d, skipped %d, failed %d)",
					f.ID, f.Status, f.Path, f.FilesIngested, f.FilesSkipped, f.FilesFailed)
				if f.LastError != "" {
					out.Statusf("!", "  last error: %s", f.LastError)
				}
			}
			return nil
		},
	}
}
