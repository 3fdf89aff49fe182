// Package repository implements the relational operations on the domain
// record: upsert, claim, renew, release, incremental stats update, and
// query by status (component C3 — the heart of the scheduling core).
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/statemachine"
	"github.com/north-cloud/crawlcoord/internal/store/postgres"
)

const (
	defaultClaimLimit  = 50
	maxReleaseRetries  = 3
	domainSelectColumns = `id, domain, status, version, claimed_by, claim_expires_at,
		pages_discovered, pages_crawled, images_found, images_stored,
		total_error_count, consecutive_error_count,
		image_yield_rate, avg_images_per_page, error_rate,
		priority_score, priority_computed_at, seed_rank, source,
		frontier_checkpoint_id, frontier_size,
		first_seen_at, last_crawled_at, next_crawl_after,
		block_reason, block_reason_code, last_crawl_run_id`
)

// DomainRepository is the sole mutator of domain rows. Every counter
// mutation is claim-guarded; unguarded writes are a contract violation (§5).
type DomainRepository struct {
	db *sqlx.DB
}

// NewDomainRepository wraps a relational connection as a DomainRepository.
func NewDomainRepository(db *sqlx.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

// Upsert inserts a domain row, ignoring the call if the domain already
// exists. Idempotent (R3): a second call with the same domain leaves the
// row unchanged and reports inserted = false.
func (r *DomainRepository) Upsert(ctx context.Context, domainName, source string, seedRank *int64) (inserted bool, err error) {
	const query = `
		INSERT INTO domains (domain, source, seed_rank, status, first_seen_at)
		VALUES ($1, $2, $3, 'pending', NOW())
		ON CONFLICT (domain) DO NOTHING
		RETURNING id
	`

	var id string
	execErr := r.db.GetContext(ctx, &id, query, domainName, source, seedRank)
	switch {
	case execErr == nil:
		return true, nil
	case errors.Is(execErr, sql.ErrNoRows):
		return false, nil
	default:
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "upsert domain %s: %v", domainName, execErr)
	}
}

// Get fetches a single domain row by its canonical name.
func (r *DomainRepository) Get(ctx context.Context, domainName string) (*domain.Record, error) {
	query := `SELECT ` + domainSelectColumns + ` FROM domains WHERE domain = $1`

	var rec domain.Record
	if err := r.db.GetContext(ctx, &rec, query, domainName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Wrapf(domain.ErrInvalidInput, "domain not found: %s", domainName)
		}
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "get domain %s: %v", domainName, err)
	}
	return &rec, nil
}

// Claim atomically acquires up to limit domains for worker workerID using a
// lock-and-skip primitive so concurrent claimers never block on each other
// (P1). An empty result is a normal outcome, not an error (B1).
func (r *DomainRepository) Claim(ctx context.Context, workerID string, limit int, lease time.Duration) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "begin claim transaction: %v", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	ids, selectErr := claimSelect(ctx, tx, limit)
	if selectErr != nil {
		return nil, selectErr
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	claimed, updateErr := claimUpdate(ctx, tx, ids, workerID, lease)
	if updateErr != nil {
		return nil, updateErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "commit claim transaction: %v", commitErr)
	}

	return claimed, nil
}

// claimSelect locks and returns up to limit claimable domain ids, ordered so
// active domains with remaining frontier and high priority come first.
func claimSelect(ctx context.Context, tx *sqlx.Tx, limit int) ([]string, error) {
	const query = `
		SELECT id
		FROM domains
		WHERE status IN ('pending', 'active')
		  AND (next_crawl_after IS NULL OR next_crawl_after <= NOW())
		  AND (claimed_by IS NULL OR claim_expires_at < NOW())
		ORDER BY (status = 'active') DESC, priority_score DESC, last_crawled_at ASC NULLS FIRST
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	var ids []string
	if err := tx.SelectContext(ctx, &ids, query, limit); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "select claimable domains: %v", err)
	}
	return ids, nil
}

// claimUpdate marks the given ids as owned by workerID and returns the
// post-update rows in whatever order the store produces them; claimSelect's
// ordering is not preserved through the update, and neither Claim nor the
// session re-sorts the batch.
func claimUpdate(ctx context.Context, tx *sqlx.Tx, ids []string, workerID string, lease time.Duration) ([]*domain.Record, error) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, workerID, lease.Seconds())
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	// A pending domain becomes active the instant work starts on it — the
	// only transition §4.2 permits out of pending besides unreachable, and
	// the one consistent with "active: partially crawled" once a worker has
	// touched it. An already-active domain is left as active (no-op).
	query := fmt.Sprintf(`
		UPDATE domains
		SET claimed_by = $1,
			claim_expires_at = NOW() + ($2 * INTERVAL '1 second'),
			status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
			version = version + 1
		WHERE id IN (%s)
		RETURNING `+domainSelectColumns, strings.Join(placeholders, ", "))

	var claimed []*domain.Record
	if err := tx.SelectContext(ctx, &claimed, query, args...); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "claim update: %v", err)
	}
	return claimed, nil
}

// Renew extends a live claim by one full lease. Returns false without
// extending anything if the caller is not the current owner or the lease
// already expired (B2) — the worker must treat that as a lost claim.
func (r *DomainRepository) Renew(ctx context.Context, id, workerID string, lease time.Duration) (bool, error) {
	const query = `
		UPDATE domains
		SET claim_expires_at = NOW() + ($1 * INTERVAL '1 second'),
			version = version + 1
		WHERE id = $2 AND claimed_by = $3 AND claim_expires_at >= NOW()
	`

	result, err := r.db.ExecContext(ctx, query, lease.Seconds(), id, workerID)
	if err != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "renew claim %s: %v", id, err)
	}
	n, raErr := result.RowsAffected()
	if raErr != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "renew claim %s: %v", id, raErr)
	}
	return n > 0, nil
}

// StatDeltas carries the caller-accumulated counter increments applied at a
// mid-run flush or at release. Deltas are always non-negative; the worker
// session is responsible for never sending more than the true increment
// since the last successful flush (P4 — no double counting).
type StatDeltas struct {
	PagesDiscovered int64
	PagesCrawled    int64
	ImagesFound     int64
	ImagesStored    int64
	TotalErrors     int64

	// ConsecutiveErrors is the worker's current in-memory error streak,
	// applied as an absolute value rather than a delta: it resets to zero
	// on any successful page, which only the session (which sees individual
	// pages, not batch totals) can track correctly.
	ConsecutiveErrors int64
}

// Flush applies accumulated stat deltas to a domain, but only if workerID
// still holds the claim. A lost-claim domain silently fails to update
// (ErrClaimLost), which is exactly the behavior the mid-run flush needs:
// a reclaimed domain must not receive writes from its former owner.
func (r *DomainRepository) Flush(ctx context.Context, id, workerID string, deltas StatDeltas) error {
	const query = `
		UPDATE domains
		SET pages_discovered = pages_discovered + $1,
			pages_crawled = pages_crawled + $2,
			images_found = images_found + $3,
			images_stored = images_stored + $4,
			total_error_count = total_error_count + $5,
			consecutive_error_count = $6,
			last_crawled_at = NOW()
		WHERE id = $7 AND claimed_by = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		deltas.PagesDiscovered, deltas.PagesCrawled, deltas.ImagesFound, deltas.ImagesStored, deltas.TotalErrors,
		deltas.ConsecutiveErrors,
		id, workerID,
	)
	return postgres.ExecRequireRows(result, wrapStoreErr(err, "flush stats %s", id), domain.Wrapf(domain.ErrClaimLost, "flush %s: not owned by %s", id, workerID))
}

// ReleaseParams describes the terminal update applied when a worker gives
// up ownership of a domain, combining the final stat deltas, status
// transition, and checkpoint reference into one statement.
type ReleaseParams struct {
	ID              string
	WorkerID        string
	ExpectedVersion int64
	Deltas          StatDeltas

	NewStatus            domain.Status
	LastCrawlRunID        *string
	FrontierCheckpointID *string
	FrontierSize         int64
	BlockReason          *string
	BlockReasonCode      *string
}

// Release clears a claim and commits final stats under an optimistic-lock
// guard, retrying with a refreshed version on conflict up to
// maxReleaseRetries times (§4.3). If the requested status transition is
// illegal, the release is refused entirely before any write is attempted.
// Release never fails destructively: on exhausted retries it returns
// domain.ErrVersionConflict and the caller logs and moves on — stale
// reclamation will eventually recover the domain.
func (r *DomainRepository) Release(ctx context.Context, params ReleaseParams) error {
	current, err := r.currentStatus(ctx, params.ID)
	if err != nil {
		return err
	}
	if err := statemachine.Validate(current, params.NewStatus); err != nil {
		return err
	}

	expected := params.ExpectedVersion
	for attempt := 0; attempt < maxReleaseRetries; attempt++ {
		ok, releaseErr := r.tryRelease(ctx, params, expected)
		if releaseErr != nil {
			return releaseErr
		}
		if ok {
			return nil
		}

		refreshed, refreshErr := r.versionByID(ctx, params.ID)
		if refreshErr != nil {
			// Row vanished or is unreadable; surface the conflict rather than loop forever.
			return domain.Wrap(domain.ErrVersionConflict, "release: could not refresh version")
		}
		expected = refreshed
	}

	return domain.Wrapf(domain.ErrVersionConflict, "release %s: exhausted %d retries", params.ID, maxReleaseRetries)
}

func (r *DomainRepository) tryRelease(ctx context.Context, params ReleaseParams, expectedVersion int64) (bool, error) {
	const query = `
		UPDATE domains
		SET claimed_by = NULL,
			claim_expires_at = NULL,
			pages_discovered = pages_discovered + $1,
			pages_crawled = pages_crawled + $2,
			images_found = images_found + $3,
			images_stored = images_stored + $4,
			total_error_count = total_error_count + $5,
			consecutive_error_count = $6,
			status = $7,
			last_crawl_run_id = COALESCE($8, last_crawl_run_id),
			frontier_checkpoint_id = $9,
			frontier_size = $10,
			block_reason = $11,
			block_reason_code = $12,
			version = version + 1
		WHERE id = $13 AND claimed_by = $14 AND version = $15
	`

	result, err := r.db.ExecContext(ctx, query,
		params.Deltas.PagesDiscovered, params.Deltas.PagesCrawled, params.Deltas.ImagesFound,
		params.Deltas.ImagesStored, params.Deltas.TotalErrors,
		params.Deltas.ConsecutiveErrors,
		params.NewStatus, params.LastCrawlRunID, params.FrontierCheckpointID, params.FrontierSize,
		params.BlockReason, params.BlockReasonCode,
		params.ID, params.WorkerID, expectedVersion,
	)
	if err != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "release %s: %v", params.ID, err)
	}
	n, raErr := result.RowsAffected()
	if raErr != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "release %s: %v", params.ID, raErr)
	}
	return n > 0, nil
}

func (r *DomainRepository) currentStatus(ctx context.Context, id string) (domain.Status, error) {
	const query = `SELECT status FROM domains WHERE id = $1`
	var status domain.Status
	if err := r.db.GetContext(ctx, &status, query, id); err != nil {
		return "", domain.Wrapf(domain.ErrStoreUnavailable, "read status for release %s: %v", id, err)
	}
	return status, nil
}

func (r *DomainRepository) versionByID(ctx context.Context, id string) (int64, error) {
	const query = `SELECT version FROM domains WHERE id = $1`
	var version int64
	if err := r.db.GetContext(ctx, &version, query, id); err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "read version %s: %v", id, err)
	}
	return version, nil
}

// ExpireStaleClaims clears every claim whose lease has already passed,
// returning the count cleared. Idempotent: a second consecutive call
// returns zero (R4).
func (r *DomainRepository) ExpireStaleClaims(ctx context.Context) (int64, error) {
	const query = `
		UPDATE domains
		SET claimed_by = NULL, claim_expires_at = NULL, version = version + 1
		WHERE claimed_by IS NOT NULL AND claim_expires_at < NOW()
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "expire stale claims: %v", err)
	}
	return result.RowsAffected()
}

// ForceReleaseWorker clears every claim held by a specific worker,
// regardless of lease expiry. Reserved for emergency recovery; callers must
// gate this behind an explicit confirmation flag.
func (r *DomainRepository) ForceReleaseWorker(ctx context.Context, workerID string) (int64, error) {
	const query = `
		UPDATE domains
		SET claimed_by = NULL, claim_expires_at = NULL, version = version + 1
		WHERE claimed_by = $1
	`
	result, err := r.db.ExecContext(ctx, query, workerID)
	if err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "force release worker %s: %v", workerID, err)
	}
	return result.RowsAffected()
}

// ForceReleaseAll clears every outstanding claim regardless of owner or
// expiry. Reserved for emergency recovery after a bad deploy.
func (r *DomainRepository) ForceReleaseAll(ctx context.Context) (int64, error) {
	const query = `
		UPDATE domains
		SET claimed_by = NULL, claim_expires_at = NULL, version = version + 1
		WHERE claimed_by IS NOT NULL
	`
	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "force release all: %v", err)
	}
	return result.RowsAffected()
}

// Reset zeroes a domain's counters and returns it to pending, clearing its
// claim, checkpoint reference, and block reason.
func (r *DomainRepository) Reset(ctx context.Context, domainName string) error {
	const query = `
		UPDATE domains
		SET status = 'pending',
			claimed_by = NULL,
			claim_expires_at = NULL,
			pages_discovered = 0,
			pages_crawled = 0,
			images_found = 0,
			images_stored = 0,
			total_error_count = 0,
			consecutive_error_count = 0,
			frontier_checkpoint_id = NULL,
			frontier_size = 0,
			block_reason = NULL,
			block_reason_code = NULL,
			version = version + 1
		WHERE domain = $1
	`
	result, err := r.db.ExecContext(ctx, query, domainName)
	return postgres.ExecRequireRows(result, wrapStoreErr(err, "reset domain %s", domainName),
		domain.Wrapf(domain.ErrInvalidInput, "domain not found: %s", domainName))
}

// StatusCounts summarizes the number of domains in each lifecycle status.
func (r *DomainRepository) StatusCounts(ctx context.Context) (map[domain.Status]int64, error) {
	const query = `SELECT status, COUNT(*) FROM domains GROUP BY status`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "status counts: %v", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var status domain.Status
		var count int64
		if scanErr := rows.Scan(&status, &count); scanErr != nil {
			return nil, domain.Wrapf(domain.ErrStoreUnavailable, "scan status counts: %v", scanErr)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// ListByStatus returns up to limit domains in the given status, highest
// priority first.
func (r *DomainRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = defaultClaimLimit
	}

	query := `SELECT ` + domainSelectColumns + ` FROM domains WHERE status = $1 ORDER BY priority_score DESC LIMIT $2`

	var records []*domain.Record
	if err := r.db.SelectContext(ctx, &records, query, status, limit); err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "list by status %s: %v", status, err)
	}
	return records, nil
}

func wrapStoreErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return domain.Wrapf(domain.ErrStoreUnavailable, format+": %v", append(args, err)...)
}
