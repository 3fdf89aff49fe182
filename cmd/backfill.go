package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/operator"
)

func newBackfillDomainsCommand() *cobra.Command {
	var dryRun bool
	var logFile string

	cmd := &cobra.Command{
		Use:   "backfill-domains",
		Short: "Reconstitute domain rows from a historical per-page crawl log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logFile == "" {
				return fmt.Errorf("--log-file is required")
			}

			entries, err := readCrawlLog(logFile)
			if err != nil {
				return fmt.Errorf("read crawl log: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			count, err := a.operator.BackfillDomains(cmd.Context(), entries, dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("backfilled %d domain(s) from %d log rows\n", count, len(entries))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the affected domain count without writing")
	cmd.Flags().StringVar(&logFile, "log-file", "", "CSV per-page log: domain,images_found,had_error,crawled_at")
	return cmd
}

// readCrawlLog parses the authoritative per-page log: one CSV row per page
// fetch, columns domain,images_found,had_error,crawled_at (RFC3339).
func readCrawlLog(path string) ([]operator.CrawlLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 4

	var entries []operator.CrawlLogEntry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		imagesFound, _ := strconv.ParseInt(row[1], 10, 64)
		hadError, _ := strconv.ParseBool(row[2])

		entries = append(entries, operator.CrawlLogEntry{
			RawDomain:   row[0],
			ImagesFound: imagesFound,
			HadError:    hadError,
			CrawledAt:   row[3],
		})
	}

	return entries, nil
}
