package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newListRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List recent crawl runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.operator.ListRecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Mode", "Status", "Started", "Pages", "Images Found", "Images Downloaded"})
			for _, r := range runs {
				t.AppendRow(table.Row{r.ID, r.Mode, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"),
					r.PagesCrawled, r.ImagesFound, r.ImagesDownloaded})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
