// Package session implements the worker session lifecycle: claiming
// domains, driving the crawl engine, renewing leases, flushing stats
// mid-run, and releasing domains on shutdown (component C5, spec §4.6).
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/north-cloud/crawlcoord/internal/canon"
	"github.com/north-cloud/crawlcoord/internal/checkpoint"
	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/domain"
	"github.com/north-cloud/crawlcoord/internal/engine"
	"github.com/north-cloud/crawlcoord/internal/logger"
	"github.com/north-cloud/crawlcoord/internal/repository"
)

// State is the lifecycle position of a Session process.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ownedDomain is the in-memory bookkeeping kept for one claimed domain for
// the life of the session. cumulative holds every counter observed since
// claim; flushed holds the snapshot as of the last successful flush, so the
// next delta sent to the store is always cumulative minus
// flushed — never the raw per-callback increment (P4: no double counting).
type ownedDomain struct {
	record    *domain.Record
	runRoot   string
	cumulative repository.StatDeltas
	flushed    repository.StatDeltas
	uncommittedPages int
	consecutiveErrors int64
	pendingURLs      []engine.Request
	blocked          bool
	blockReason      string
	blockReasonCode  string
}

// Session drives one worker process's crawl lifecycle end to end.
type Session struct {
	cfg     *config.Config
	domains *repository.DomainRepository
	runs    *repository.RunRepository
	checkpoints *checkpoint.Store
	eng     engine.Engine
	log     logger.Interface

	workerID string
	runID    string

	state atomic.Int32

	mu     sync.Mutex
	owned  map[string]*ownedDomain

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// New assembles a Session. workerID defaults to "<hostname>-<pid>" when empty,
// matching the convention operators use to identify a stuck worker's claims.
func New(cfg *config.Config, domains *repository.DomainRepository, runs *repository.RunRepository, checkpoints *checkpoint.Store, eng engine.Engine, log logger.Interface, workerID string) *Session {
	if workerID == "" {
		workerID = defaultWorkerID()
	}
	return &Session{
		cfg:         cfg,
		domains:     domains,
		runs:        runs,
		checkpoints: checkpoints,
		eng:         eng,
		log:         log.WithWorker(workerID),
		workerID:    workerID,
		owned:       make(map[string]*ownedDomain),
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run performs one full worker invocation: startup, claim, crawl, and a
// clean shutdown on ctx cancellation or engine exhaustion. It refuses to
// start if the claim protocol is configured without smart scheduling — that
// refusal belongs to config.Validate and is re-checked
// here as a last line of defense (ErrFatalConfig, §7).
func (s *Session) Run(ctx context.Context, mode domain.RunMode, seedSource string, claimLimit int) error {
	if s.cfg.EnableClaimProtocol && !s.cfg.EnableSmartScheduling {
		return domain.Wrap(domain.ErrFatalConfig, "claim protocol requires smart scheduling")
	}
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return errors.New("session already running")
	}

	s.runID = uuid.NewString()
	if err := s.runs.Create(ctx, s.runID, mode, seedSource); err != nil {
		s.state.Store(int32(StateStopped))
		return err
	}
	s.log = s.log.WithRunID(s.runID)
	s.log.Info("session starting", "mode", mode)

	claimed, err := s.domains.Claim(ctx, s.workerID, claimLimit, s.cfg.LeaseDuration)
	if err != nil {
		return s.failRun(ctx, err)
	}
	if len(claimed) == 0 {
		s.log.Info("claim returned no domains")
	}

	s.mu.Lock()
	for _, rec := range claimed {
		s.owned[rec.ID] = &ownedDomain{record: rec, runRoot: "https://" + rec.Domain + "/"}
	}
	s.mu.Unlock()

	s.stopHeartbeat = make(chan struct{})
	s.wg.Add(1)
	go s.heartbeatLoop(ctx)

	crawlErr := s.crawlAll(ctx)

	close(s.stopHeartbeat)
	s.wg.Wait()

	// Release and run bookkeeping still have to reach the stores when ctx was
	// canceled, so they run on a context that does not inherit the cancellation.
	cleanupCtx := context.WithoutCancel(ctx)

	s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	s.shutdown(cleanupCtx)
	s.state.Store(int32(StateStopped))

	if crawlErr != nil {
		return s.failRun(cleanupCtx, crawlErr)
	}

	totals := s.runTotals()
	if err := s.runs.Complete(cleanupCtx, s.runID, totals.PagesCrawled, totals.ImagesFound, totals.ImagesStored); err != nil {
		s.log.WithError(err).Error("failed to mark run completed")
	}
	s.log.Info("session completed", "pages_crawled", totals.PagesCrawled)
	return nil
}

func (s *Session) failRun(ctx context.Context, cause error) error {
	totals := s.runTotals()
	if err := s.runs.Fail(ctx, s.runID, totals.PagesCrawled, totals.ImagesFound, totals.ImagesStored, cause.Error()); err != nil {
		s.log.WithError(err).Error("failed to mark run failed")
	}
	s.state.Store(int32(StateStopped))
	return cause
}

func (s *Session) runTotals() repository.StatDeltas {
	s.mu.Lock()
	defer s.mu.Unlock()
	var totals repository.StatDeltas
	for _, od := range s.owned {
		totals.PagesCrawled += od.cumulative.PagesCrawled
		totals.ImagesFound += od.cumulative.ImagesFound
		totals.ImagesStored += od.cumulative.ImagesStored
	}
	return totals
}

// crawlAll seeds every claimed domain (from its checkpoint if one exists,
// else its root) and drives each through the engine concurrently. Budget
// enforcement and mid-run flush happen inside the per-domain callback.
func (s *Session) crawlAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.owned))
	for id := range s.owned {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.crawlOne(ctx, id); err != nil {
				errs <- err
			}
		}(id)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		// A single domain's engine failure does not abort the run (§5): the
		// domain's in-memory counters already reflect whatever it completed,
		// and shutdown still releases it with whatever status applies.
		s.log.WithError(err).Warn("domain crawl ended with error")
	}
	return nil
}

func (s *Session) crawlOne(ctx context.Context, id string) error {
	s.mu.Lock()
	od, ok := s.owned[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	seeds := s.seedsFor(ctx, od)
	domLog := s.log.WithDomain(od.record.Domain)

	cb := func(cbCtx context.Context, page engine.Page) []engine.Request {
		return s.handlePage(cbCtx, id, page, domLog)
	}

	return s.eng.Run(ctx, seeds, cb)
}

// seedsFor loads a domain's checkpoint if it has one, else starts it from
// its root URL. A checkpoint load failure degrades to a root-only seed
// rather than aborting the domain (StoreUnavailable is caller-local retry
// or skip, per §7; here it is skipped).
func (s *Session) seedsFor(ctx context.Context, od *ownedDomain) []engine.Request {
	if od.record.FrontierCheckpointID != nil && *od.record.FrontierCheckpointID != "" {
		entries, err := s.checkpoints.Load(ctx, *od.record.FrontierCheckpointID)
		if err == nil && len(entries) > 0 {
			seeds := make([]engine.Request, len(entries))
			for i, e := range entries {
				seeds[i] = engine.Request{URL: e.URL, Depth: e.Depth}
			}
			return seeds
		}
	}
	return []engine.Request{{URL: od.runRoot, Depth: 0}}
}

// handlePage updates in-memory counters for one resolved page, enforces the
// per-domain page budget, queues newly discovered links (or defers them to
// pendingURLs once budget is exhausted), and triggers a mid-run flush when
// the configured page interval is reached.
func (s *Session) handlePage(ctx context.Context, id string, page engine.Page, domLog logger.Interface) []engine.Request {
	s.mu.Lock()
	od := s.owned[id]
	if od == nil {
		s.mu.Unlock()
		return nil
	}

	od.cumulative.PagesCrawled++
	od.uncommittedPages++
	if page.Err != nil || page.StatusCode >= 400 {
		od.cumulative.TotalErrors++
		od.consecutiveErrors++
	} else {
		od.consecutiveErrors = 0
	}

	budgetExhausted := s.cfg.BudgetEnabled() && od.cumulative.PagesCrawled >= int64(s.cfg.MaxPagesPerRun)

	var discovered []engine.Request
	var doc *goquery.Document
	if page.Err == nil && page.StatusCode < 400 && looksLikeHTML(page.ContentType) {
		var err error
		doc, err = parseHTML(page.Body)
		if err == nil {
			if s.cfg.BlockOnLogin && looksLikeLoginPage(doc) {
				od.blocked = true
				od.blockReason = "response looked like a login page"
				od.blockReasonCode = "login_required"
				domLog.Warn("blocking domain", "reason", od.blockReasonCode)
			} else {
				discovered = extractLinks(page.URL, doc, od.record.Domain)
				od.cumulative.PagesDiscovered += int64(len(discovered))
			}
		}
	}

	if !od.blocked && s.cfg.MaxDomainErrors > 0 && od.consecutiveErrors >= int64(s.cfg.MaxDomainErrors) {
		if code, ok := blockingStatusCode(page.StatusCode); ok {
			od.blocked = true
			od.blockReasonCode = code
			od.blockReason = fmt.Sprintf("%d consecutive responses at status %d", od.consecutiveErrors, page.StatusCode)
			domLog.Warn("blocking domain", "reason", od.blockReasonCode)
		}
	}

	flushNow := s.cfg.FlushEnabled() && od.uncommittedPages >= s.cfg.StatsFlushInterval
	var delta repository.StatDeltas
	if flushNow {
		delta = subtractDeltas(od.cumulative, od.flushed)
		delta.ConsecutiveErrors = od.consecutiveErrors
		od.flushed = od.cumulative
		od.uncommittedPages = 0
	}
	s.mu.Unlock()

	if flushNow {
		if err := s.domains.Flush(ctx, id, s.workerID, delta); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				domLog.Warn("claim lost during flush, dropping domain")
				s.dropOwned(id)
			} else {
				domLog.WithError(err).Warn("mid-run flush failed")
				// The delta was not applied: roll the snapshot back so the next
				// flush or the release sends it again.
				s.mu.Lock()
				od.flushed = subtractDeltas(od.flushed, delta)
				s.mu.Unlock()
			}
		}
	}

	if budgetExhausted {
		s.mu.Lock()
		od.pendingURLs = append(od.pendingURLs, discovered...)
		s.mu.Unlock()
		return nil
	}
	return discovered
}

func (s *Session) dropOwned(id string) {
	s.mu.Lock()
	delete(s.owned, id)
	s.mu.Unlock()
}

func looksLikeHTML(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "html")
}

// blockingStatusCode reports whether status is one of the response classes
// that count toward a domain's consecutive-error block threshold: an auth
// wall (403), rate limiting (429), or sustained unavailability (503).
func blockingStatusCode(status int) (string, bool) {
	switch status {
	case 403, 429, 503:
		return fmt.Sprintf("too_many_errors_%d", status), true
	default:
		return "", false
	}
}

// parseHTML parses a page body once so handlePage can run both link
// extraction and login-wall detection against the same document.
func parseHTML(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// looksLikeLoginPage is the same heuristic discovery crawls have long used
// to recognize an authentication wall: a password field, or "login"/"sign
// in" in the page title.
func looksLikeLoginPage(doc *goquery.Document) bool {
	if doc.Find(`input[type="password"]`).Length() > 0 {
		return true
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	return strings.Contains(title, "login") || strings.Contains(title, "sign in")
}

// extractLinks pulls every anchor href out of an HTML page, resolves it
// against the page's own URL, and keeps only links whose canonical domain
// matches the domain being crawled — the frontier stays single-domain, the
// same scope colly's AllowedDomains enforces at the transport layer.
func extractLinks(pageURL string, doc *goquery.Document, ownerDomain string) []engine.Request {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var requests []engine.Request
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		linkDomain, err := canon.Domain(resolved.String(), canon.Options{})
		if err != nil || linkDomain != ownerDomain {
			return
		}

		normalized := resolved.String()
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		requests = append(requests, engine.Request{URL: normalized})
	})
	return requests
}

func subtractDeltas(cumulative, flushed repository.StatDeltas) repository.StatDeltas {
	return repository.StatDeltas{
		PagesDiscovered: cumulative.PagesDiscovered - flushed.PagesDiscovered,
		PagesCrawled:    cumulative.PagesCrawled - flushed.PagesCrawled,
		ImagesFound:     cumulative.ImagesFound - flushed.ImagesFound,
		ImagesStored:    cumulative.ImagesStored - flushed.ImagesStored,
		TotalErrors:     cumulative.TotalErrors - flushed.TotalErrors,
	}
}

// heartbeatLoop renews every owned claim every RenewalInterval. A renewal
// that reports loss drops the domain from the owned set immediately; no new
// work starts on it. handlePage ignores later pages for a dropped domain, so
// its in-flight crawl winds down with no further flush, and shutdown does not
// release it.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RenewalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopHeartbeat:
			return
		case <-ticker.C:
			s.renewAll(ctx)
		}
	}
}

func (s *Session) renewAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.owned))
	for id := range s.owned {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		ok, err := s.domains.Renew(ctx, id, s.workerID, s.cfg.LeaseDuration)
		if err != nil {
			s.log.WithError(err).Warn("lease renewal failed")
			continue
		}
		if !ok {
			s.log.Warn("lease lost on renewal", "domain_id", id)
			s.dropOwned(id)
		}
	}
}

// shutdown releases every still-owned domain: it decides each domain's
// terminal status, saves a checkpoint when there is unfinished frontier to
// resume from, and commits the final counter deltas under the
// optimistic-lock guard (§4.6 step 7).
func (s *Session) shutdown(ctx context.Context) {
	s.mu.Lock()
	owned := make(map[string]*ownedDomain, len(s.owned))
	for id, od := range s.owned {
		owned[id] = od
	}
	s.mu.Unlock()

	for id, od := range owned {
		s.releaseOne(ctx, id, od)
	}
}

func (s *Session) releaseOne(ctx context.Context, id string, od *ownedDomain) {
	newStatus := domain.StatusExhausted
	var checkpointID *string
	var frontierSize int64

	switch {
	case od.blocked:
		newStatus = domain.StatusBlocked
	case len(od.pendingURLs) > 0:
		newStatus = domain.StatusActive
		entries := make([]domain.FrontierEntry, len(od.pendingURLs))
		for i, req := range od.pendingURLs {
			entries[i] = domain.FrontierEntry{URL: req.URL, Depth: req.Depth}
		}
		cpID, err := s.checkpoints.Save(ctx, od.record.Domain, s.runID, entries, s.cfg.CheckpointTTL)
		if err != nil {
			s.log.WithDomain(od.record.Domain).WithError(err).Warn("checkpoint save failed, domain will restart from root next claim")
		} else {
			checkpointID = &cpID
			frontierSize = int64(len(entries))
		}
	}

	delta := subtractDeltas(od.cumulative, od.flushed)
	delta.ConsecutiveErrors = od.consecutiveErrors
	runID := s.runID

	var blockReason, blockReasonCode *string
	if od.blocked {
		blockReason = &od.blockReason
		blockReasonCode = &od.blockReasonCode
	}

	params := repository.ReleaseParams{
		ID:                   id,
		WorkerID:             s.workerID,
		ExpectedVersion:      od.record.Version,
		Deltas:               delta,
		NewStatus:            newStatus,
		LastCrawlRunID:       &runID,
		FrontierCheckpointID: checkpointID,
		FrontierSize:         frontierSize,
		BlockReason:          blockReason,
		BlockReasonCode:      blockReasonCode,
	}

	if err := s.domains.Release(ctx, params); err != nil {
		s.log.WithDomain(od.record.Domain).WithError(err).Warn("release failed; lease expiry will reclaim this domain")
	}
}
