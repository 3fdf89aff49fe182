// Package checkpoint persists and restores a domain's pending URL frontier
// in Redis so crawls resume cleanly across runs (component C2).
package checkpoint

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/north-cloud/crawlcoord/internal/domain"
)

// DefaultTTL bounds how long an unclaimed checkpoint survives in Redis.
const DefaultTTL = 30 * 24 * time.Hour

const keyPrefix = "frontier:"

// Store is a Redis-backed ordered-set checkpoint store keyed by (domain, run id).
type Store struct {
	client *redis.Client
}

// New wraps a Redis client as a checkpoint Store.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// ID returns the checkpoint id convention used across the system:
// "<canonical-domain>:<run-id>", chosen so operators can triage a domain
// row's frontier_checkpoint_id without a secondary lookup.
func ID(domainName, runID string) string {
	return domainName + ":" + runID
}

func key(checkpointID string) string {
	return keyPrefix + checkpointID
}

// Save atomically writes an ordered collection of frontier entries (score =
// depth, member = url) plus a TTL, in a single pipelined round-trip. Empty
// entries are a no-op that still returns the checkpoint id (R1/R2
// compatible: nothing is written, so there is nothing to later delete).
// Duplicate URLs collapse to their most recently supplied depth, per the
// underlying sorted-set semantics.
func (s *Store) Save(ctx context.Context, domainName, runID string, entries []domain.FrontierEntry, ttl time.Duration) (string, error) {
	id := ID(domainName, runID)
	if len(entries) == 0 {
		return id, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	k := key(id)
	members := make([]redis.Z, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		members = append(members, redis.Z{Score: float64(e.Depth), Member: e.URL})
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, k, members...)
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", domain.Wrapf(domain.ErrStoreUnavailable, "save checkpoint %s: %v", id, err)
	}

	return id, nil
}

// Load returns all entries for a checkpoint ordered by depth ascending.
func (s *Store) Load(ctx context.Context, checkpointID string) ([]domain.FrontierEntry, error) {
	results, err := s.client.ZRangeWithScores(ctx, key(checkpointID), 0, -1).Result()
	if err != nil {
		return nil, domain.Wrapf(domain.ErrStoreUnavailable, "load checkpoint %s: %v", checkpointID, err)
	}

	entries := make([]domain.FrontierEntry, 0, len(results))
	for _, z := range results {
		url, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, domain.FrontierEntry{URL: url, Depth: int64(z.Score)})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Depth < entries[j].Depth })

	return entries, nil
}

// Delete removes a checkpoint. Idempotent: a second call on an already
// deleted (or never-existing) checkpoint returns false without error (R2).
func (s *Store) Delete(ctx context.Context, checkpointID string) (bool, error) {
	n, err := s.client.Del(ctx, key(checkpointID)).Result()
	if err != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "delete checkpoint %s: %v", checkpointID, err)
	}
	return n > 0, nil
}

// Exists reports whether a checkpoint is present.
func (s *Store) Exists(ctx context.Context, checkpointID string) (bool, error) {
	n, err := s.client.Exists(ctx, key(checkpointID)).Result()
	if err != nil {
		return false, domain.Wrapf(domain.ErrStoreUnavailable, "checkpoint exists %s: %v", checkpointID, err)
	}
	return n > 0, nil
}

// Size returns the number of URLs in a checkpoint, 0 if it does not exist.
func (s *Store) Size(ctx context.Context, checkpointID string) (int64, error) {
	n, err := s.client.ZCard(ctx, key(checkpointID)).Result()
	if err != nil {
		return 0, domain.Wrapf(domain.ErrStoreUnavailable, "checkpoint size %s: %v", checkpointID, err)
	}
	return n, nil
}
