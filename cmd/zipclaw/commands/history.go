package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/zipclaw/pkg/zipclaw/history"
)

// newHistoryCmd creates the `zipclaw history` command that prints the
// most recent audited uploads and downloads.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent archive activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled in the configuration")
			}
			logger := newLogger(cmd, cfg)

			store, err := history.Open(cfg.History.Path, logger)
			if err != nil {
				return fmt.Errorf("opening history database: %w", err)
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := store.Recent(limit)
			if err != nil {
				return fmt.Errorf("reading history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No history yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tUSER\tACTION\tCATEGORY\tARCHIVE\tFILES\tSIZE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
					e.CreatedAt.Format("2006-01-02 15:04"),
					e.UserID, e.Action, e.Namespace, e.Name, e.Files, e.Size)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "maximum number of entries to show")
	return cmd
}
