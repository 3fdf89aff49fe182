package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/north-cloud/crawlcoord/internal/domain"
)

const runSelectColumns = `id, mode, started_at, completed_at, status,
	pages_crawled, images_found, images_downloaded, seed_source, error_message`

// RunRepository persists the short-lived bookkeeping row created once per
// worker process invocation (§3.3's run record).
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository wraps a relational connection as a RunRepository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new running run record under the caller-supplied id.
func (r *RunRepository) Create(ctx context.Context, id string, mode domain.RunMode, seedSource string) error {
	const query = `
		INSERT INTO crawl_runs (id, mode, started_at, status, seed_source)
		VALUES ($1, $2, NOW(), 'running', $3)
	`
	_, err := r.db.ExecContext(ctx, query, id, mode, seedSource)
	if err != nil {
		return domain.Wrapf(domain.ErrStoreUnavailable, "create run %s: %v", id, err)
	}
	return nil
}

// Complete marks a run finished successfully with its final counters.
func (r *RunRepository) Complete(ctx context.Context, id string, pagesCrawled, imagesFound, imagesDownloaded int64) error {
	const query = `
		UPDATE crawl_runs
		SET status = 'completed',
			completed_at = NOW(),
			pages_crawled = $1,
			images_found = $2,
			images_downloaded = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, pagesCrawled, imagesFound, imagesDownloaded, id)
	if err != nil {
		return domain.Wrapf(domain.ErrStoreUnavailable, "complete run %s: %v", id, err)
	}
	return nil
}

// Fail marks a run finished with a fatal error, recording its message and
// whatever counters it had accumulated before the error occurred.
func (r *RunRepository) Fail(ctx context.Context, id string, pagesCrawled, imagesFound, imagesDownloaded int64, errMsg string) error {
	const query = `
		UPDATE crawl_runs
		SET status = 'failed',
			completed_at = NOW(),
			pages_crawled = $1,
			images_found = $2,
			images_downloaded = $3,
			error_message = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, pagesCrawled, imagesFound, imagesDownloaded, errMsg, id)
	if err != nil {
		return domain.Wrapf(domain.ErrStoreUnavailable, "fail run %s: %v", id, err)
	}
	return nil
}

// ListRecent returns the most recently started runs, newest first, for
// operator reporting.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	query := `SELECT ` + runSelectColumns + ` FROM crawl_runs ORDER BY started_at DESC LIMIT $1`

	var runs []*domain.Run
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "list recent runs: %v", err)
	}
	return runs, nil
}

// ListStale returns runs still marked running that started before the given
// cutoff, used by the stale-run cleanup operator action.
func (r *RunRepository) ListStale(ctx context.Context, olderThanMinutes int) ([]*domain.Run, error) {
	query := `SELECT ` + runSelectColumns + ` FROM crawl_runs
		WHERE status = 'running' AND started_at < NOW() - ($1 * INTERVAL '1 minute')`

	var runs []*domain.Run
	if err := r.db.SelectContext(ctx, &runs, query, olderThanMinutes); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "list stale runs: %v", err)
	}
	return runs, nil
}

// MarkStale force-completes a run as failed. It is called by the stale-run
// cleanup action, both from the CLI and from the maintenance scheduler.
func (r *RunRepository) MarkStale(ctx context.Context, id string) error {
	const query = `
		UPDATE crawl_runs
		SET status = 'failed', completed_at = NOW(), error_message = 'marked stale by operator'
		WHERE id = $1 AND status = 'running'
	`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return domain.Wrapf(domain.ErrStoreUnavailable, "mark run stale %s: %v", id, err)
	}
	return nil
}
