package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/north-cloud/crawlcoord/internal/config"
	"github.com/north-cloud/crawlcoord/internal/logger"
)

func TestSeedHosts_DedupesAndLowercases(t *testing.T) {
	seeds := []Request{
		{URL: "https://Example.com/a"},
		{URL: "https://example.com/b"},
		{URL: "https://other.com/c"},
		{URL: "not a url"},
	}
	hosts := seedHosts(seeds)
	require.ElementsMatch(t, []string{"example.com", "other.com"}, hosts)
}

func TestMaxInt(t *testing.T) {
	require.Equal(t, 5, maxInt(5, 1))
	require.Equal(t, 3, maxInt(1, 3))
}

func TestDepthTracker_SetKeepsFirstValue(t *testing.T) {
	dt := newDepthTracker()
	dt.set("https://example.com/a", 0)
	dt.set("https://example.com/a", 3)
	require.Equal(t, int64(0), dt.get("https://example.com/a"))
	require.Equal(t, int64(0), dt.get("https://example.com/unseen"))
}

func TestIsBenignVisitErr(t *testing.T) {
	require.False(t, isBenignVisitErr(nil))
}

func TestRun_EmptySeeds_NoOp(t *testing.T) {
	e := NewColly(&config.Crawl{MaxDepth: 1, Parallelism: 1, RequestTimeout: time.Second}, logger.NewNop())
	err := e.Run(context.Background(), nil, func(ctx context.Context, p Page) []Request { return nil })
	require.NoError(t, err)
}

func TestRun_FetchesSeedAndFollowsDiscoveredLink(t *testing.T) {
	var mu sync.Mutex
	visited := map[string]bool{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		visited[r.URL.Path] = true
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`<html><body></body></html>`))
		}
	}))
	defer server.Close()

	e := NewColly(&config.Crawl{
		MaxDepth:       2,
		Parallelism:    1,
		RequestTimeout: 5 * time.Second,
	}, logger.NewNop())

	cb := func(ctx context.Context, p Page) []Request {
		if p.URL == server.URL+"/" {
			return []Request{{URL: server.URL + "/next"}}
		}
		return nil
	}

	err := e.Run(context.Background(), []Request{{URL: server.URL + "/", Depth: 0}}, cb)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.True(t, visited["/"])
	require.True(t, visited["/next"])
}

func TestRun_RespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	e := NewColly(&config.Crawl{MaxDepth: 1, Parallelism: 1, RequestTimeout: 5 * time.Second}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx, []Request{{URL: server.URL + "/", Depth: 0}}, func(ctx context.Context, p Page) []Request { return nil })
	require.NoError(t, err)
}
