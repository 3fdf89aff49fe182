// Package operator implements the administrative actions an operator runs
// against a live coordinator deployment outside the worker lifecycle:
// releasing stuck claims, cleaning up stale runs, resetting a domain, and
// backfilling domain rows from a historical crawl log (component C6, §4.7).
package operator

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/north-cloud/crawlcoord/internal/canon"
	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/repository"
)

// Operator groups the administrative actions over the domain and run stores.
type Operator struct {
	domains *repository.DomainRepository
	runs    *repository.RunRepository
	db      *sqlx.DB
	log     logger.Interface
}

// New wraps the repositories as an Operator.
func New(domains *repository.DomainRepository, runs *repository.RunRepository, db *sqlx.DB, log logger.Interface) *Operator {
	return &Operator{domains: domains, runs: runs, db: db, log: log.WithComponent("operator")}
}

// ReleaseMode selects which claims ReleaseStuckClaims targets.
type ReleaseMode int

const (
	// ReleaseExpiredOnly releases only claims whose lease has already passed.
	ReleaseExpiredOnly ReleaseMode = iota
	// ReleaseForWorker force-releases every claim held by one named worker.
	ReleaseForWorker
	// ReleaseAllActive force-releases every outstanding claim regardless of owner.
	ReleaseAllActive
)

// ReleaseStuckClaims performs the requested release. When dryRun is set it
// only logs the requested mode and worker id and returns 0; it does not
// count the claims that would be released. Non-default modes (ReleaseForWorker,
// ReleaseAllActive) are the caller's responsibility to gate behind operator
// confirmation (§4.7) — this function always executes what it is asked.
func (o *Operator) ReleaseStuckClaims(ctx context.Context, mode ReleaseMode, workerID string, dryRun bool) (int64, error) {
	if mode == ReleaseForWorker && workerID == "" {
		return 0, domain.Wrap(domain.ErrInvalidInput, "release stuck claims: worker id required for ReleaseForWorker")
	}

	if dryRun {
		o.log.Info("dry run: release stuck claims", "mode", mode, "worker_id", workerID)
		return 0, nil
	}

	switch mode {
	case ReleaseExpiredOnly:
		return o.domains.ExpireStaleClaims(ctx)
	case ReleaseForWorker:
		return o.domains.ForceReleaseWorker(ctx, workerID)
	case ReleaseAllActive:
		return o.domains.ForceReleaseAll(ctx)
	default:
		return 0, domain.Wrapf(domain.ErrInvalidInput, "release stuck claims: unknown mode %d", mode)
	}
}

// CleanupStaleRuns marks every run still "running" past olderThanMinutes as
// failed, returning how many it touched (or would touch, under dryRun).
func (o *Operator) CleanupStaleRuns(ctx context.Context, olderThanMinutes int, dryRun bool) (int, error) {
	stale, err := o.runs.ListStale(ctx, olderThanMinutes)
	if err != nil {
		return 0, err
	}
	if dryRun {
		o.log.Info("dry run: cleanup stale runs", "count", len(stale))
		return len(stale), nil
	}

	for _, run := range stale {
		if err := o.runs.MarkStale(ctx, run.ID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// ListRecentRuns reports the most recently started crawl runs.
func (o *Operator) ListRecentRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	return o.runs.ListRecent(ctx, limit)
}

// ResetDomain zeroes a domain's counters and returns it to pending.
func (o *Operator) ResetDomain(ctx context.Context, domainName string) error {
	canonical, err := canon.Domain(domainName, canon.Options{})
	if err != nil {
		return domain.Wrapf(domain.ErrInvalidInput, "reset domain: %v", err)
	}
	return o.domains.Reset(ctx, canonical)
}

// DomainInfo returns the full record for one domain.
func (o *Operator) DomainInfo(ctx context.Context, domainName string) (*domain.Record, error) {
	canonical, err := canon.Domain(domainName, canon.Options{})
	if err != nil {
		return nil, domain.Wrapf(domain.ErrInvalidInput, "domain info: %v", err)
	}
	return o.domains.Get(ctx, canonical)
}

// DomainStatusSummary returns the count of domains in each lifecycle status.
func (o *Operator) DomainStatusSummary(ctx context.Context) (map[domain.Status]int64, error) {
	return o.domains.StatusCounts(ctx)
}

// DomainsByStatus lists up to limit domains in one status, highest priority first.
func (o *Operator) DomainsByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Record, error) {
	return o.domains.ListByStatus(ctx, status, limit)
}

// CrawlLogEntry is one row of the historical per-page log that backfill
// reconstitutes domain rows from. It mirrors the authoritative log's
// columns; canonicalization is applied to RawDomain before aggregation so
// that rows logged before canonicalization rules changed still fold into
// the correct canonical domain (§4.7).
type CrawlLogEntry struct {
	RawDomain   string
	ImagesFound int64
	HadError    bool
	CrawledAt   string
}

type backfillAccumulator struct {
	pagesDiscovered int64
	pagesCrawled    int64
	imagesFound     int64
	errorCount      int64
	firstSeen       string
	lastCrawled     string
}

// BackfillDomains reconstitutes domain rows from a historical per-page log.
// It canonicalizes every raw domain string before aggregating so
// pre-canonicalization data folds into the correct row, classifies each
// resulting domain as blocked (error ratio > 0.5) or exhausted otherwise,
// and is idempotent: re-running over the same log converges on the same
// counters rather than accumulating further (it recomputes from the log
// each time instead of incrementing live counters).
func (o *Operator) BackfillDomains(ctx context.Context, entries []CrawlLogEntry, dryRun bool) (int, error) {
	totals := make(map[string]*backfillAccumulator)

	for _, e := range entries {
		canonical, err := canon.Domain(e.RawDomain, canon.Options{})
		if err != nil {
			o.log.WithError(err).Warn("skipping unparseable domain in backfill", "raw", e.RawDomain)
			continue
		}

		acc, ok := totals[canonical]
		if !ok {
			acc = &backfillAccumulator{firstSeen: e.CrawledAt, lastCrawled: e.CrawledAt}
			totals[canonical] = acc
		}
		acc.pagesCrawled++
		acc.pagesDiscovered++
		acc.imagesFound += e.ImagesFound
		if e.HadError {
			acc.errorCount++
		}
		if e.CrawledAt < acc.firstSeen {
			acc.firstSeen = e.CrawledAt
		}
		if e.CrawledAt > acc.lastCrawled {
			acc.lastCrawled = e.CrawledAt
		}
	}

	if dryRun {
		o.log.Info("dry run: backfill domains", "domain_count", len(totals))
		return len(totals), nil
	}

	for domainName, acc := range totals {
		status := domain.StatusExhausted
		errorRatio := float64(acc.errorCount) / float64(acc.pagesCrawled)
		if errorRatio > 0.5 {
			status = domain.StatusBlocked
		}

		if _, err := o.domains.Upsert(ctx, domainName, "backfill", nil); err != nil {
			return 0, err
		}
		if err := o.applyBackfillAggregate(ctx, domainName, status, acc); err != nil {
			return 0, err
		}
	}

	return len(totals), nil
}

func (o *Operator) applyBackfillAggregate(ctx context.Context, domainName string, status domain.Status, acc *backfillAccumulator) error {
	const query = `
		UPDATE domains
		SET status = $1,
			pages_discovered = $2,
			pages_crawled = $3,
			images_found = $4,
			total_error_count = $5,
			first_seen_at = LEAST(first_seen_at, $6::TIMESTAMPTZ),
			last_crawled_at = GREATEST(COALESCE(last_crawled_at, $7::TIMESTAMPTZ), $7::TIMESTAMPTZ),
			version = version + 1
		WHERE domain = $8
	`
	_, err := o.db.ExecContext(ctx, query, status, acc.pagesDiscovered, acc.pagesCrawled, acc.imagesFound,
		acc.errorCount, acc.firstSeen, acc.lastCrawled, domainName)
	if err != nil {
		return domain.Wrapf(domain.ErrStoreUnavailable, "backfill aggregate %s: %v", domainName, err)
	}
	return nil
}

// RecalculateImagesStored recomputes images_stored per canonical domain from
// the authoritative image-provenance join, the backfill's second pass
// (§4.7). provenanceCounts is supplied by the caller since the provenance
// table is an external collaborator outside this coordinator's own schema.
func (o *Operator) RecalculateImagesStored(ctx context.Context, provenanceCounts map[string]int64, dryRun bool) (int, error) {
	if dryRun {
		o.log.Info("dry run: recalculate images_stored", "domain_count", len(provenanceCounts))
		return len(provenanceCounts), nil
	}

	const query = `UPDATE domains SET images_stored = $1, version = version + 1 WHERE domain = $2`
	for domainName, count := range provenanceCounts {
		if _, err := o.db.ExecContext(ctx, query, count, domainName); err != nil {
			return 0, domain.Wrapf(domain.ErrStoreUnavailable, "recalculate images_stored %s: %v", domainName, err)
		}
	}
	return len(provenanceCounts), nil
}
