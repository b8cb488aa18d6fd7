package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// newArchivesCmd creates the `zipclaw archives` command group for
// inspecting the archive store without going through a chat channel.
func newArchivesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archives",
		Short: "Inspect stored archives",
	}

	cmd.AddCommand(newArchivesListCmd(), newArchivesGetCmd())
	return cmd
}

func newArchivesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [category]",
		Short: "List stored archives, optionally for one category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			ctx := context.Background()
			backend, err := newBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}

			categories := cfg.Categories
			if len(args) == 1 {
				categories = []string{args[0]}
			}

			for _, cat := range categories {
				names, err := backend.List(ctx, cat)
				if err != nil {
					return fmt.Errorf("listing %s: %w", cat, err)
				}
				fmt.Printf("%s (%d):\n", cat, len(names))
				for _, n := range names {
					fmt.Printf("  %s\n", n)
				}
			}
			return nil
		},
	}
}

func newArchivesGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <category> <name>",
		Short: "Download a stored archive to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			ctx := context.Background()
			backend, err := newBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}

			category, name := args[0], args[1]
			data, err := backend.Get(ctx, category, name)
			if err != nil {
				return fmt.Errorf("fetching %s/%s: %w", category, name, err)
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = filepath.Base(name)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}

			fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "output file path (defaults to the archive name)")
	return cmd
}
