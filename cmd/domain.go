package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/domain"
)

func newDomainResetCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "domain-reset <domain>",
		Short: "Zero a domain's counters and return it to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				yes, _ := cmd.Flags().GetBool("yes")
				if !confirmDestructive(cmd, yes, fmt.Sprintf("reset domain %q", args[0])) {
					return nil
				}
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.operator.ResetDomain(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("reset domain %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip confirmation")
	return cmd
}

func newDomainStatusCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "domain-status",
		Short: "Summarize domains by status, or list domains filtered to one status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if status == "" {
				counts, err := a.operator.DomainStatusSummary(cmd.Context())
				if err != nil {
					return err
				}
				return renderStatusSummary(counts)
			}

			records, err := a.operator.DomainsByStatus(cmd.Context(), domain.Status(status), limit)
			if err != nil {
				return err
			}
			return renderDomainList(records)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter to one status (pending|active|exhausted|blocked|unreachable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to list")
	return cmd
}

func newDomainInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "domain-info <domain>",
		Short: "Print the full record for one domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.operator.DomainInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderDomainInfo(rec)
		},
	}
	return cmd
}

func renderStatusSummary(counts map[domain.Status]int64) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Status", "Count"})
	for _, s := range []domain.Status{
		domain.StatusPending, domain.StatusActive, domain.StatusExhausted,
		domain.StatusBlocked, domain.StatusUnreachable,
	} {
		t.AppendRow(table.Row{s, counts[s]})
	}
	t.Render()
	return nil
}

func renderDomainList(records []*domain.Record) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Domain", "Status", "Priority", "Pages Crawled", "Claimed By"})
	for _, r := range records {
		claimedBy := ""
		if r.ClaimedBy != nil {
			claimedBy = *r.ClaimedBy
		}
		t.AppendRow(table.Row{r.Domain, r.Status, r.PriorityScore, r.PagesCrawled, claimedBy})
	}
	t.Render()
	return nil
}

func renderDomainInfo(r *domain.Record) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"domain", r.Domain})
	t.AppendRow(table.Row{"status", r.Status})
	t.AppendRow(table.Row{"version", r.Version})
	t.AppendRow(table.Row{"priority_score", r.PriorityScore})
	t.AppendRow(table.Row{"pages_discovered", r.PagesDiscovered})
	t.AppendRow(table.Row{"pages_crawled", r.PagesCrawled})
	t.AppendRow(table.Row{"images_found", r.ImagesFound})
	t.AppendRow(table.Row{"images_stored", r.ImagesStored})
	t.AppendRow(table.Row{"total_error_count", r.TotalErrorCount})
	t.AppendRow(table.Row{"consecutive_error_count", r.ConsecutiveErrorCount})
	t.AppendRow(table.Row{"frontier_checkpoint_id", derefStr(r.FrontierCheckpointID)})
	t.AppendRow(table.Row{"frontier_size", r.FrontierSize})
	t.AppendRow(table.Row{"claimed_by", derefStr(r.ClaimedBy)})
	t.AppendRow(table.Row{"block_reason", derefStr(r.BlockReason)})
	t.Render()
	return nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
