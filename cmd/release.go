package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/operator"
)

func newReleaseStuckClaimsCommand() *cobra.Command {
	var dryRun, force, allActive bool
	var workerID string

	cmd := &cobra.Command{
		Use:   "release-stuck-claims",
		Short: "Release expired or forced claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := operator.ReleaseExpiredOnly
			switch {
			case force && allActive:
				mode = operator.ReleaseAllActive
			case force && workerID != "":
				mode = operator.ReleaseForWorker
			case force:
				return fmt.Errorf("--force requires --worker-id or --all-active")
			}

			if mode != operator.ReleaseExpiredOnly && !dryRun {
				yes, _ := cmd.Flags().GetBool("yes")
				if !confirmDestructive(cmd, yes, "release stuck claims") {
					return nil
				}
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			count, err := a.operator.ReleaseStuckClaims(cmd.Context(), mode, workerID, dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("released %d claim(s)\n", count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the requested release mode without writing (no count is taken)")
	cmd.Flags().BoolVar(&force, "force", false, "release claims regardless of lease expiry")
	cmd.Flags().BoolVar(&allActive, "all-active", false, "with --force, release every outstanding claim")
	cmd.Flags().StringVar(&workerID, "worker-id", "", "with --force, release only this worker's claims")
	return cmd
}

// confirmDestructive prompts on stdin unless yes is already set by the caller.
func confirmDestructive(cmd *cobra.Command, yes bool, action string) bool {
	if yes {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "This will %s. Continue? [y/N]: ", action)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
