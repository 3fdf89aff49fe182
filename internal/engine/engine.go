// Package engine defines the abstract boundary between the scheduling core
// and whatever drives actual HTTP fetches (component boundary for §6.1).
// The session depends on this interface, never on a concrete fetcher, so the
// engine implementation (async reactor, worker pool, or a test double) is
// swappable without touching scheduling logic.
package engine

import "context"

// Request is one seed or discovered URL queued for a fetch. Metadata travels
// with the request only; CollyEngine does not copy it onto the resulting Page.
type Request struct {
	URL      string
	Depth    int64
	Metadata map[string]string
}

// Page is what the engine hands back once a Request resolves to a response.
type Page struct {
	URL         string
	StatusCode  int
	Body        []byte
	ContentType string
	Metadata    map[string]string
	Err         error
}

// Callback is invoked once per resolved Page. It returns further requests
// discovered on that page (same-domain links the session should enqueue).
type Callback func(ctx context.Context, page Page) []Request

// Engine is the crawl-engine contract the session drives. Implementations
// run their own concurrency internally and may invoke the callback from
// several goroutines at once (CollyEngine does, being async with a
// configurable parallelism), so the session guards its in-memory state with
// its own mutex.
type Engine interface {
	// Run drives the given seeds to completion (or until ctx is canceled),
	// invoking cb for every resolved page and feeding back the requests it
	// yields until the frontier is exhausted or the session stops enqueuing.
	Run(ctx context.Context, seeds []Request, cb Callback) error

	// Close notifies the engine the session is shutting down, with a
	// human-readable reason for logs.
	Close(reason string)
}
