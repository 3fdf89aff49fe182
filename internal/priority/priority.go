// Package priority recomputes the composite ranking used to choose the next
// domain at claim time (component C4).
package priority

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/north-cloud/crawlcoord/internal/domain"
)

// Calculator recomputes quality signals and the composite priority score
// for every non-terminal domain in a single atomic statement.
type Calculator struct {
	db *sqlx.DB
}

// New wraps a relational connection as a Calculator.
func New(db *sqlx.DB) *Calculator {
	return &Calculator{db: db}
}

// capPagesRemaining bounds the "remaining frontier" reward so one very large
// domain cannot monopolize priority ordering.
const capPagesRemaining = 500

// Recompute rewrites image_yield_rate, avg_images_per_page, error_rate, and
// priority_score for every domain whose status is not blocked or
// unreachable (B4: terminal statuses are skipped and keep their prior
// score). neverCrawledEpoch is the staleness-bonus baseline substituted for
// a null last_crawled_at — a resolved open question, now config-driven
// instead of the hard-coded date the formula originally carried.
// All reads and writes happen in the one statement below; there is no
// partial-recomputation mode.
func (c *Calculator) Recompute(ctx context.Context, neverCrawledEpoch time.Time) (int64, error) {
	const query = `
		UPDATE domains
		SET image_yield_rate = CASE WHEN pages_crawled > 0
				THEN images_stored::DOUBLE PRECISION / pages_crawled
				ELSE NULL END,
			avg_images_per_page = CASE WHEN pages_crawled > 0
				THEN images_found::DOUBLE PRECISION / pages_crawled
				ELSE NULL END,
			error_rate = CASE WHEN pages_crawled > 0
				THEN total_error_count::DOUBLE PRECISION / pages_crawled
				ELSE NULL END,
			priority_score = (
				COALESCE(-seed_rank, 0)
				+ ROUND(COALESCE((images_stored::DOUBLE PRECISION / NULLIF(pages_crawled, 0)) * 1000, 0))::BIGINT
				+ LEAST(GREATEST(pages_discovered - pages_crawled, 0), $1) * 2
				- ROUND(COALESCE((total_error_count::DOUBLE PRECISION / NULLIF(pages_crawled, 0)) * 500, 0))::BIGINT
				+ FLOOR(EXTRACT(EPOCH FROM (NOW() - COALESCE(last_crawled_at, $2))) / 86400 * 5)::BIGINT
			),
			priority_computed_at = NOW()
		WHERE status NOT IN ('blocked', 'unreachable')
	`

	result, err := c.db.ExecContext(ctx, query, capPagesRemaining, neverCrawledEpoch)
	if err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "recompute priorities: %v", err)
	}
	return result.RowsAffected()
}

// Stats summarizes the current priority_score distribution across
// non-terminal domains, for operator reporting.
type Stats struct {
	Count  int64   `db:"count"`
	Avg    float64 `db:"avg"`
	Min    int64   `db:"min"`
	Max    int64   `db:"max"`
	Median float64 `db:"median"`
}

// Summary computes the aggregate priority statistics over non-terminal
// domains (every status except blocked and unreachable).
func (c *Calculator) Summary(ctx context.Context) (*Stats, error) {
	const query = `
		SELECT
			COUNT(*) AS count,
			COALESCE(AVG(priority_score), 0) AS avg,
			COALESCE(MIN(priority_score), 0) AS min,
			COALESCE(MAX(priority_score), 0) AS max,
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY priority_score), 0) AS median
		FROM domains
		WHERE status NOT IN ('blocked', 'unreachable')
	`

	var stats Stats
	if err := c.db.GetContext(ctx, &stats, query); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "priority summary: %v", err)
	}
	return &stats, nil
}
