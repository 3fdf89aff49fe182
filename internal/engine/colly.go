package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	colly "github.com/gocolly/colly/v2"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/logger"
)

// CollyEngine drives fetches through a gocolly collector. One Run call gets
// its own collector, scoped to the hosts present in its seed set, so that
// concurrent Run calls for different domains never share colly's internal
// visited-URL dedup state.
type CollyEngine struct {
	cfg *config.Crawl
	log logger.Interface
}

// NewColly builds an engine that fetches pages with gocolly.
func NewColly(cfg *config.Crawl, log logger.Interface) *CollyEngine {
	return &CollyEngine{cfg: cfg, log: log.WithComponent("engine.colly")}
}

// Run drives the given seeds to completion through a fresh collector,
// feeding every discovered request the callback yields back into the same
// collector until the frontier drains or ctx is canceled.
func (e *CollyEngine) Run(ctx context.Context, seeds []Request, cb Callback) error {
	if len(seeds) == 0 {
		return nil
	}

	allowed := seedHosts(seeds)

	c := colly.NewCollector(
		colly.MaxDepth(e.cfg.MaxDepth),
		colly.Async(true),
		colly.ParseHTTPErrorResponse(),
		colly.AllowedDomains(allowed...),
	)
	if !e.cfg.RespectRobotsTxt {
		c.IgnoreRobotsTxt = true
	}
	if e.cfg.UserAgent != "" {
		c.UserAgent = e.cfg.UserAgent
	}

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       e.cfg.Delay,
		RandomDelay: e.cfg.RandomDelay,
		Parallelism: maxInt(e.cfg.Parallelism, 1),
	}); err != nil {
		return fmt.Errorf("set rate limit: %w", err)
	}

	c.SetRequestTimeout(e.cfg.RequestTimeout)
	c.WithTransport(&http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: e.cfg.InsecureSkipVerify}, //nolint:gosec
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	})

	abort := make(chan struct{})
	var abortOnce sync.Once
	closeAbort := func() { abortOnce.Do(func() { close(abort) }) }
	defer closeAbort()

	depths := newDepthTracker()
	for _, s := range seeds {
		depths.set(s.URL, s.Depth)
	}

	var runErr error
	var mu sync.Mutex
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if runErr == nil {
			runErr = err
		}
	}

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
			return
		case <-abort:
			r.Abort()
			return
		default:
		}
	})

	c.OnResponse(func(r *colly.Response) {
		depth := depths.get(r.Request.URL.String())
		page := Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Body:        r.Body,
			ContentType: r.Headers.Get("Content-Type"),
		}
		discovered := cb(ctx, page)
		for _, d := range discovered {
			depths.set(d.URL, depth+1)
			if d.Depth == 0 {
				d.Depth = depth + 1
			}
			if err := c.Visit(d.URL); err != nil && !isBenignVisitErr(err) {
				e.log.Debug("visit failed", "url", d.URL, "error", err)
			}
		}
	})

	c.OnError(func(r *colly.Response, visitErr error) {
		if isBenignVisitErr(visitErr) {
			e.log.Debug("expected crawl error", "url", r.Request.URL.String(), "error", visitErr)
			return
		}
		depth := depths.get(r.Request.URL.String())
		page := Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Err:        visitErr,
		}
		discovered := cb(ctx, page)
		for _, d := range discovered {
			depths.set(d.URL, depth+1)
			_ = c.Visit(d.URL)
		}
	})

	c.OnScraped(func(r *colly.Response) {
		select {
		case <-ctx.Done():
			closeAbort()
		default:
		}
	})

	for _, s := range seeds {
		if err := c.Visit(s.URL); err != nil && !isBenignVisitErr(err) {
			setErr(fmt.Errorf("visit seed %s: %w", s.URL, err))
		}
	}

	waitDone := make(chan struct{})
	go func() {
		c.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-ctx.Done():
		closeAbort()
		<-waitDone
	}

	mu.Lock()
	defer mu.Unlock()
	return runErr
}

// Close only logs the reason: CollyEngine holds no state across Run calls.
func (e *CollyEngine) Close(reason string) {
	e.log.Info("engine closing", "reason", reason)
}

func isBenignVisitErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, colly.ErrAlreadyVisited) ||
		errors.Is(err, colly.ErrMaxDepth) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrNoURLFiltersMatch) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked)
}

// seedHosts derives the AllowedDomains list from the seed set's own URLs,
// since the engine is handed URLs rather than a domain name.
func seedHosts(seeds []Request) []string {
	seen := make(map[string]struct{}, len(seeds))
	var hosts []string
	for _, s := range seeds {
		u, err := url.Parse(s.URL)
		if err != nil || u.Host == "" {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	return hosts
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// depthTracker records the crawl depth each visited URL was discovered at,
// since colly's callbacks carry the response but not the session's own
// Request metadata.
type depthTracker struct {
	mu     sync.Mutex
	depths map[string]int64
}

func newDepthTracker() *depthTracker {
	return &depthTracker{depths: make(map[string]int64)}
}

func (t *depthTracker) set(url string, depth int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.depths[url]; !ok {
		t.depths[url] = depth
	}
}

func (t *depthTracker) get(url string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.depths[url]
}
