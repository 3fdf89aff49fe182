package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecalculatePrioritiesCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "recalculate-priorities",
		Short: "Recompute derived signals and priority_score for every non-terminal domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if dryRun {
				stats, err := a.priority.Summary(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("dry run: %d non-terminal domains would be recomputed (current avg score %.1f)\n", stats.Count, stats.Avg)
				return nil
			}

			count, err := a.priority.Recompute(cmd.Context(), a.cfg.NeverCrawledEpoch)
			if err != nil {
				return err
			}
			fmt.Printf("recomputed priority for %d domain(s)\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the affected domain count without writing")
	return cmd
}
