package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/config"
)

func newCleanupStaleRunsCommand() *cobra.Command {
	var dryRun bool
	var olderThanMinutes int

	cmd := &cobra.Command{
		Use:   "cleanup-stale-runs",
		Short: "Mark long-running run records as failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if olderThanMinutes <= 0 {
				olderThanMinutes = int(config.DefaultStaleRunThreshold.Minutes())
			}

			count, err := a.operator.CleanupStaleRuns(cmd.Context(), olderThanMinutes, dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("marked %d run(s) failed\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be marked without writing")
	cmd.Flags().IntVar(&olderThanMinutes, "older-than-minutes", 0, "threshold in minutes (default from config)")
	return cmd
}
